package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// FirmwareVersion is injected at build time via -ldflags
var FirmwareVersion = "dev"

// main is the entry point of the application
func main() {
	configFile := pflag.StringP("config", "c", "config.json", "Path to the JSON configuration file")
	logLevel := pflag.StringP("log-level", "l", "", "Override the configured log level (debug, info, warn, error)")
	pflag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Critical: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Critical: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	logger.Info("Telemetry Agent", zap.String("version", FirmwareVersion))

	// SIGINT/SIGTERM start the graceful shutdown sequence
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Agent stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(exitCode(err))
	}
	logger.Info("Shutdown complete")
}

// run builds every component from cfg and runs the agent until ctx ends.
func run(ctx context.Context, cfg Config, logger *zap.Logger) (err error) {
	metrics := NewMetrics()

	var closers []func() error
	defer func() {
		// Only reached with a non-nil err before the agent took ownership.
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	sensor, err := OpenAHT20(cfg.Sensor.Bus, cfg.Sensor.Addr)
	if err != nil {
		return fmt.Errorf("open sensor: %w", err)
	}
	closers = append(closers, sensor.Close)

	var display *Renderer
	if isEnabled(cfg.Display.Enabled) {
		display, err = OpenSSD1306(cfg.Display.Bus, cfg.Display.Width, cfg.Display.Height, cfg.Display.ConnectionLabel)
		if err != nil {
			return fmt.Errorf("open display: %w", err)
		}
	} else {
		display = NewRenderer(newNullPanel(cfg.Display.Width, cfg.Display.Height), cfg.Display.ConnectionLabel)
	}
	closers = append(closers, display.Close)

	driver, err := NewPinDriver(cfg.GPIO)
	if err != nil {
		// Pin state stays authoritative without physical outputs.
		logger.Warn("GPIO unavailable, outputs are logical only", zap.String("chip", cfg.GPIO.Chip), zap.Error(err))
		driver, err = noopDriver{}, nil
	}
	closers = append(closers, driver.Close)

	broker, err := NewBrokerClient(cfg.MQTT,
		WithBrokerLogger(logger),
		WithBrokerMetrics(metrics),
		WithConnectTimeout(cfg.Timing.ConnectTimeout.Std()),
		WithConnectRetryInterval(cfg.Timing.ConnectRetry.Std()),
	)
	if err != nil {
		return fmt.Errorf("create broker client: %w", err)
	}

	agent, err := NewAgent(cfg, Deps{
		Sensor:  sensor,
		Display: display,
		Broker:  broker,
		Driver:  driver,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("Metrics listener stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("Running. Press Ctrl+C to exit.")
	if runErr := agent.Run(ctx); runErr != nil {
		// The agent already released its components.
		closers = nil
		return runErr
	}
	return nil
}

// exitCode maps a fatal error to a process exit status.
func exitCode(err error) int {
	var sensorErr *SensorError
	var displayErr *DisplayError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &sensorErr):
		return 2
	case errors.As(err, &displayErr):
		return 3
	default:
		return 1
	}
}
