package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Configuration Structures
// ============================================================================

// Config is the root configuration structure loaded from JSON
type Config struct {
	MQTT        MQTTConfig    `json:"mqtt"`
	Sensor      SensorConfig  `json:"sensor"`
	Display     DisplayConfig `json:"display"`
	GPIO        GPIOConfig    `json:"gpio"`
	Timing      TimingConfig  `json:"timing"`
	Log         LogConfig     `json:"log"`
	MetricsAddr string        `json:"metrics_addr,omitempty"` // e.g. ":9100"; empty disables the metrics listener
}

// MQTTConfig defines broker connection settings
type MQTTConfig struct {
	Host         string            `json:"host"`              // Broker hostname
	Port         int               `json:"port"`              // Broker TLS port (default 8883)
	ClientID     string            `json:"client_id"`         // Client identifier, also sent as username
	CertFile     string            `json:"cert_file"`         // PEM client certificate
	KeyFile      string            `json:"key_file"`          // PEM client key
	CAFile       string            `json:"ca_file,omitempty"` // Optional CA bundle; system roots if empty
	QoS          byte              `json:"qos"`               // QoS for publish and subscribe
	Topics       TopicsConfig      `json:"topics"`
	Commands     map[string]string `json:"commands"`                // pin key ("led1") -> command topic
	QueueLen     int               `json:"queue_len"`               // Inbound message queue capacity
	MaxMsgPerSec float64           `json:"max_messages_per_second"` // Inbound rate limit
}

// TopicsConfig names the outbound reading topics
type TopicsConfig struct {
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
}

// SensorConfig defines the I2C temperature/humidity sensor
type SensorConfig struct {
	Bus         string `json:"bus"`          // periph bus name, e.g. "/dev/i2c-1" or "" for the first bus
	Addr        uint16 `json:"addr"`         // I2C address (AHT20: 0x38)
	MaxFailures int    `json:"max_failures"` // Consecutive read failures before the agent stops
}

// DisplayConfig defines the SSD1306 OLED panel
type DisplayConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"` // nil or true = enabled, false = disabled
	Bus             string `json:"bus"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	ConnectionLabel string `json:"connection_label"` // Third line label, e.g. "AZURE CONNECTION"
}

// GPIOConfig maps logical pins onto physical GPIO lines
type GPIOConfig struct {
	Chip     string         `json:"chip"`     // GPIO chip device (e.g., "gpiochip0"); empty = no physical outputs
	Lines    map[string]int `json:"lines"`    // pin key -> line offset
	Inverted bool           `json:"inverted"` // If true, LOW=ON and HIGH=OFF
}

// TimingConfig holds loop cadence and timeouts
type TimingConfig struct {
	ConnectGrace    Duration `json:"connect_grace"`
	PublishInterval Duration `json:"publish_interval"`
	ConnectTimeout  Duration `json:"connect_timeout"`
	ConnectRetry    Duration `json:"connect_retry_interval"` // pause between dial attempts while the broker is unreachable
	ReadTimeout     Duration `json:"read_timeout"`
}

// LogConfig selects log level and encoding
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // console or json
}

// Duration is a time.Duration that decodes from "10s" style strings or
// from a plain number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds: %s", b)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns the settings of the stock Raspberry Pi deployment.
func DefaultConfig() Config {
	return Config{
		MQTT: MQTTConfig{
			Host:     "vhome-mqtt.northeurope-1.ts.eventgrid.azure.net",
			Port:     8883,
			ClientID: "client1-authnid",
			CertFile: "./client1-authnID.pem",
			KeyFile:  "./client1-authnID.key",
			Topics: TopicsConfig{
				Temperature: "RPi/Sensors/temp",
				Humidity:    "RPi/Sensors/humi",
			},
			Commands: map[string]string{
				"led1":   "RPi/Input/led1",
				"led2":   "RPi/Input/led2",
				"relay1": "RPi/Input/relay1",
			},
			QueueLen:     64,
			MaxMsgPerSec: 20,
		},
		Sensor: SensorConfig{
			Addr:        0x38,
			MaxFailures: 1,
		},
		Display: DisplayConfig{
			Width:           128,
			Height:          32,
			ConnectionLabel: "AZURE CONNECTION",
		},
		Timing: TimingConfig{
			ConnectGrace:    Duration(3 * time.Second),
			PublishInterval: Duration(10 * time.Second),
			ConnectTimeout:  Duration(30 * time.Second),
			ConnectRetry:    Duration(10 * time.Second),
			ReadTimeout:     Duration(2 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// loadConfig reads and parses the JSON configuration file. A missing file
// yields the defaults. Environment overrides are applied last.
func loadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return Config{}, fmt.Errorf("read config file: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.MQTT.Port == 0 {
		c.MQTT.Port = def.MQTT.Port
	}
	if c.MQTT.Topics.Temperature == "" {
		c.MQTT.Topics.Temperature = def.MQTT.Topics.Temperature
	}
	if c.MQTT.Topics.Humidity == "" {
		c.MQTT.Topics.Humidity = def.MQTT.Topics.Humidity
	}
	if len(c.MQTT.Commands) == 0 {
		c.MQTT.Commands = def.MQTT.Commands
	}
	if c.MQTT.QueueLen <= 0 {
		c.MQTT.QueueLen = def.MQTT.QueueLen
	}
	if c.MQTT.MaxMsgPerSec <= 0 {
		c.MQTT.MaxMsgPerSec = def.MQTT.MaxMsgPerSec
	}
	if c.Sensor.Addr == 0 {
		c.Sensor.Addr = def.Sensor.Addr
	}
	if c.Sensor.MaxFailures <= 0 {
		c.Sensor.MaxFailures = def.Sensor.MaxFailures
	}
	if c.Display.Width == 0 {
		c.Display.Width = def.Display.Width
	}
	if c.Display.Height == 0 {
		c.Display.Height = def.Display.Height
	}
	if c.Display.ConnectionLabel == "" {
		c.Display.ConnectionLabel = def.Display.ConnectionLabel
	}
	if c.Timing.ConnectGrace <= 0 {
		c.Timing.ConnectGrace = def.Timing.ConnectGrace
	}
	if c.Timing.PublishInterval <= 0 {
		c.Timing.PublishInterval = def.Timing.PublishInterval
	}
	if c.Timing.ConnectTimeout <= 0 {
		c.Timing.ConnectTimeout = def.Timing.ConnectTimeout
	}
	if c.Timing.ConnectRetry <= 0 {
		c.Timing.ConnectRetry = def.Timing.ConnectRetry
	}
	if c.Timing.ReadTimeout <= 0 {
		c.Timing.ReadTimeout = def.Timing.ReadTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// applyEnv overrides deployment-specific settings from the environment.
func (c *Config) applyEnv() {
	c.MQTT.Host = getenv("AGENT_MQTT_HOST", c.MQTT.Host)
	c.MQTT.Port = getenvInt("AGENT_MQTT_PORT", c.MQTT.Port)
	c.MQTT.ClientID = getenv("AGENT_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.CertFile = getenv("AGENT_MQTT_CERT_FILE", c.MQTT.CertFile)
	c.MQTT.KeyFile = getenv("AGENT_MQTT_KEY_FILE", c.MQTT.KeyFile)
	c.MQTT.CAFile = getenv("AGENT_MQTT_CA_FILE", c.MQTT.CAFile)
	c.Log.Level = getenv("AGENT_LOG_LEVEL", c.Log.Level)
	c.MetricsAddr = getenv("AGENT_METRICS_ADDR", c.MetricsAddr)
}

// Validate checks the settings the agent cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.MQTT.Host == "" {
		errs = append(errs, errors.New("mqtt.host is required"))
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Errorf("mqtt.port %d out of range", c.MQTT.Port))
	}
	if c.MQTT.ClientID == "" {
		errs = append(errs, errors.New("mqtt.client_id is required"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d out of range", c.MQTT.QoS))
	}
	if _, err := c.CommandRoutes(); err != nil {
		errs = append(errs, err)
	}
	for key := range c.GPIO.Lines {
		if _, err := ParsePin(key); err != nil {
			errs = append(errs, fmt.Errorf("gpio.lines: %w", err))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// CommandRoutes maps every command topic to its pin.
func (c *Config) CommandRoutes() (map[string]Pin, error) {
	routes := make(map[string]Pin, len(c.MQTT.Commands))
	for key, topic := range c.MQTT.Commands {
		pin, err := ParsePin(key)
		if err != nil {
			return nil, fmt.Errorf("mqtt.commands: %w", err)
		}
		if topic == "" {
			return nil, fmt.Errorf("mqtt.commands: empty topic for %s", key)
		}
		if other, dup := routes[topic]; dup {
			return nil, fmt.Errorf("mqtt.commands: topic %s used by %s and %s", topic, other, pin)
		}
		routes[topic] = pin
	}
	return routes, nil
}

// isEnabled checks if an optional component is enabled (nil or true means enabled)
func isEnabled(enabled *bool) bool {
	return enabled == nil || *enabled
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
