package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics groups the agent's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	Temperature    prometheus.Gauge
	Humidity       prometheus.Gauge
	Connected      prometheus.Gauge
	PinState       *prometheus.GaugeVec
	Commands       *prometheus.CounterVec
	CommandErrors  *prometheus.CounterVec
	SensorErrors   prometheus.Counter
	DroppedInbound prometheus.Counter
	Published      *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_sensor_temperature_celsius",
			Help: "Last temperature reading in degrees Celsius.",
		}),
		Humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_sensor_humidity_percent",
			Help: "Last relative humidity reading in percent.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_broker_connected",
			Help: "1 when the broker connection is acknowledged, 0 otherwise.",
		}),
		PinState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agent_pin_state",
			Help: "Current logical state of each output pin.",
		}, []string{"pin"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_commands_total",
			Help: "Inbound commands applied, by pin.",
		}, []string{"pin"}),
		CommandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_command_errors_total",
			Help: "Inbound messages rejected, by reason.",
		}, []string{"reason"}),
		SensorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_sensor_errors_total",
			Help: "Failed sensor reads.",
		}),
		DroppedInbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_inbound_dropped_total",
			Help: "Inbound messages dropped by the rate limit or a full queue.",
		}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_published_total",
			Help: "Readings handed to the broker client, by topic.",
		}, []string{"topic"}),
	}
	m.Registry.MustRegister(
		m.Temperature, m.Humidity, m.Connected, m.PinState, m.Commands,
		m.CommandErrors, m.SensorErrors, m.DroppedInbound, m.Published,
	)
	for _, p := range AllPins {
		m.PinState.WithLabelValues(p.Key()).Set(0)
	}
	return m
}

func (m *Metrics) observeReading(r Reading) {
	m.Temperature.Set(r.Temperature)
	m.Humidity.Set(r.Humidity)
}

func (m *Metrics) observePin(pin Pin, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	m.PinState.WithLabelValues(pin.Key()).Set(v)
}

func (m *Metrics) observeConnected(connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.Connected.Set(v)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
