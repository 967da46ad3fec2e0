package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the agent lifecycle phase.
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateRunning:
		return "RUNNING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Broker is the subset of BrokerClient the agent drives.
type Broker interface {
	Connect(ctx context.Context) error
	Subscribe(topics []string) error
	AwaitConnected(ctx context.Context, d time.Duration) bool
	Publish(topic string, value any)
	Messages() <-chan Message
	Status() ConnectionStatus
	Disconnect()
}

// Display is the subset of Renderer the agent drives.
type Display interface {
	RenderReading(r Reading, connected bool) error
	RenderPlaceholder() error
	Close() error
}

// Deps are the components an Agent owns.
type Deps struct {
	Sensor  SensorReader
	Display Display
	Broker  Broker
	Pins    *PinState
	Driver  PinDriver
	Metrics *Metrics
	Logger  *zap.Logger
}

// Agent runs the publish loop and applies inbound commands to pin state.
type Agent struct {
	deps   Deps
	log    *zap.Logger
	routes map[string]Pin
	topics TopicsConfig
	timing TimingConfig

	maxSensorFailures int
	state             atomic.Int32
}

// NewAgent wires deps according to cfg. Nil Pins, Driver, Metrics and
// Logger are replaced with defaults.
func NewAgent(cfg Config, deps Deps) (*Agent, error) {
	if deps.Sensor == nil || deps.Display == nil || deps.Broker == nil {
		return nil, errors.New("agent requires sensor, display and broker")
	}
	routes, err := cfg.CommandRoutes()
	if err != nil {
		return nil, err
	}
	if deps.Pins == nil {
		deps.Pins = NewPinState()
	}
	if deps.Driver == nil {
		deps.Driver = noopDriver{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	a := &Agent{
		deps:              deps,
		log:               deps.Logger.Named("agent"),
		routes:            routes,
		topics:            cfg.MQTT.Topics,
		timing:            cfg.Timing,
		maxSensorFailures: max(1, cfg.Sensor.MaxFailures),
	}
	a.setState(StateInit)
	return a, nil
}

// State returns the current lifecycle phase.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Pins returns the pin state the agent mutates.
func (a *Agent) Pins() *PinState {
	return a.deps.Pins
}

// Run connects, runs the publish loop until ctx is cancelled or a fatal
// error occurs, then shuts down. It returns nil after an interrupt and the
// fatal error otherwise.
func (a *Agent) Run(ctx context.Context) error {
	a.setState(StateConnecting)
	a.log.Info("Connection to broker in progress...")

	if err := a.deps.Broker.Connect(ctx); err != nil {
		a.log.Warn("Could not connect to broker", zap.Error(err))
	}
	if err := a.deps.Broker.Subscribe(subscriptionTopics(a.routes)); err != nil {
		a.log.Warn("Subscribe failed", zap.Error(err))
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		a.consume()
	}()

	if !a.deps.Broker.AwaitConnected(ctx, a.timing.ConnectGrace.Std()) {
		a.log.Warn("Connection not acknowledged within grace period, continuing",
			zap.Duration("grace", a.timing.ConnectGrace.Std()))
	}

	a.setState(StateRunning)
	runErr := a.loop(ctx)

	a.setState(StateShuttingDown)
	a.log.Info("Shutting down...")
	shutdownErr := a.shutdown()
	<-consumerDone

	a.setState(StateStopped)
	return errors.Join(runErr, shutdownErr)
}

// loop reads, publishes and renders, then waits the publish interval. The
// wait starts after the work, so the cadence drifts by the time spent.
func (a *Agent) loop(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		reading, err := ReadWithTimeout(ctx, a.deps.Sensor, a.timing.ReadTimeout.Std())
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			a.deps.Metrics.SensorErrors.Inc()
			a.log.Error("Sensor read failed",
				zap.Int("consecutive", failures),
				zap.Int("max", a.maxSensorFailures),
				zap.Error(err))
			if failures >= a.maxSensorFailures {
				return err
			}
		default:
			failures = 0
			if err := a.report(reading); err != nil {
				return err
			}
		}

		t := time.NewTimer(a.timing.PublishInterval.Std())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// report publishes both values and redraws the display.
func (a *Agent) report(r Reading) error {
	a.deps.Broker.Publish(a.topics.Temperature, r.Temperature)
	a.deps.Broker.Publish(a.topics.Humidity, r.Humidity)
	a.deps.Metrics.observeReading(r)

	connected := a.deps.Broker.Status() == Connected
	if err := a.deps.Display.RenderReading(r, connected); err != nil {
		return err
	}
	a.log.Info(fmt.Sprintf("Payload: %s , %s", FormatValue(r.Temperature), FormatValue(r.Humidity)),
		zap.Bool("connected", connected))
	return nil
}

// consume applies queued inbound messages until the broker closes the queue.
// It is the only writer of pin state.
func (a *Agent) consume() {
	for msg := range a.deps.Broker.Messages() {
		a.handleMessage(msg)
	}
}

func (a *Agent) handleMessage(msg Message) {
	cmd, err := ParseCommand(msg.Topic, msg.Payload, a.routes)
	switch {
	case errors.Is(err, ErrUnmappedTopic):
		a.deps.Metrics.CommandErrors.WithLabelValues("unmapped").Inc()
		a.log.Debug("Ignoring message on unmapped topic", zap.String("topic", msg.Topic))
		return
	case err != nil:
		a.deps.Metrics.CommandErrors.WithLabelValues("parse").Inc()
		a.log.Warn("Dropping malformed command", zap.Error(err))
		return
	}

	a.log.Info(fmt.Sprintf("Received: %d from %s", cmd.Value, msg.Topic))

	changed := a.deps.Pins.Set(cmd.Pin, cmd.On)
	a.log.Info(transitionMessage(cmd.Pin, cmd.On, changed), zap.String("pin", cmd.Pin.Key()))
	a.deps.Metrics.Commands.WithLabelValues(cmd.Pin.Key()).Inc()
	if !changed {
		return
	}
	a.deps.Metrics.observePin(cmd.Pin, cmd.On)
	if err := a.deps.Driver.Set(cmd.Pin, cmd.On); err != nil {
		a.log.Warn("Failed to drive output", zap.String("pin", cmd.Pin.Key()), zap.Error(err))
	}
}

// shutdown shows the placeholder frame, stops the listener and releases
// hardware.
func (a *Agent) shutdown() error {
	var errs []error
	if err := a.deps.Display.RenderPlaceholder(); err != nil {
		errs = append(errs, err)
	}
	a.deps.Broker.Disconnect()
	if err := a.deps.Driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin driver: %w", err))
	}
	if err := a.deps.Sensor.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sensor: %w", err))
	}
	if err := a.deps.Display.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Agent) setState(s State) {
	prev := State(a.state.Swap(int32(s)))
	if prev != s {
		a.log.Debug("state transition", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}
