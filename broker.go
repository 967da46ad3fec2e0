package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConnectionStatus is the broker session state as last acknowledged.
type ConnectionStatus int32

const (
	Disconnected ConnectionStatus = iota
	Connected
)

func (s ConnectionStatus) String() string {
	if s == Connected {
		return "CONNECTED"
	}
	return "DISCONNECTED"
}

const subscribeTimeout = 10 * time.Second

// BrokerClient owns a single TLS session to the broker. Inbound messages on
// subscribed topics are queued on Messages; the channel is closed by
// Disconnect.
type BrokerClient struct {
	client         mqtt.Client
	broker         string
	qos            byte
	connectTimeout time.Duration
	connectRetry   time.Duration
	log            *zap.Logger
	metrics        *Metrics

	status atomic.Int32
	ack    chan struct{}

	limiter *rate.Limiter
	queue   chan Message

	mu     sync.Mutex
	topics []string
	closed bool
	once   sync.Once
}

// BrokerOption customises a BrokerClient.
type BrokerOption func(b *BrokerClient) error

// WithBrokerLogger sets the logger.
func WithBrokerLogger(l *zap.Logger) BrokerOption {
	return func(b *BrokerClient) error {
		b.log = l
		return nil
	}
}

// WithBrokerMetrics records connection state and drops on m.
func WithBrokerMetrics(m *Metrics) BrokerOption {
	return func(b *BrokerClient) error {
		b.metrics = m
		return nil
	}
}

// WithConnectTimeout bounds Connect.
func WithConnectTimeout(d time.Duration) BrokerOption {
	return func(b *BrokerClient) error {
		b.connectTimeout = d
		return nil
	}
}

// WithConnectRetryInterval sets the pause between dial attempts while the
// broker is unreachable.
func WithConnectRetryInterval(d time.Duration) BrokerOption {
	return func(b *BrokerClient) error {
		b.connectRetry = d
		return nil
	}
}

// withClient replaces the paho client, used by tests.
func withClient(c mqtt.Client) BrokerOption {
	return func(b *BrokerClient) error {
		b.client = c
		return nil
	}
}

// NewBrokerClient prepares a client for cfg. It does not connect.
func NewBrokerClient(cfg MQTTConfig, opts ...BrokerOption) (*BrokerClient, error) {
	b := &BrokerClient{
		broker:         brokerURL(cfg),
		qos:            cfg.QoS,
		connectTimeout: 30 * time.Second,
		connectRetry:   10 * time.Second,
		log:            zap.L(),
		ack:            make(chan struct{}, 1),
		limiter:        rate.NewLimiter(rate.Limit(cfg.MaxMsgPerSec), max(1, int(cfg.MaxMsgPerSec))),
		queue:          make(chan Message, max(1, cfg.QueueLen)),
	}
	for _, o := range opts {
		if err := o(b); err != nil {
			return nil, err
		}
	}
	b.log = b.log.Named("broker")

	if b.client == nil {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		o := mqtt.NewClientOptions()
		o.AddBroker(b.broker)
		o.SetClientID(cfg.ClientID)
		o.SetUsername(cfg.ClientID)
		o.SetTLSConfig(tlsCfg)
		o.SetProtocolVersion(4)
		o.SetAutoReconnect(true)
		// Without this a failed first dial is final; AutoReconnect only
		// covers sessions that were once established.
		o.SetConnectRetry(true)
		o.SetConnectRetryInterval(b.connectRetry)
		o.SetConnectTimeout(b.connectTimeout)
		o.SetOrderMatters(false)
		o.SetOnConnectHandler(b.onConnect)
		o.SetConnectionLostHandler(b.onConnectionLost)
		b.client = mqtt.NewClient(o)
	}
	return b, nil
}

// brokerURL returns the paho server URL for cfg.
func brokerURL(cfg MQTTConfig) string {
	return fmt.Sprintf("tls://%s:%d", cfg.Host, cfg.Port)
}

// loadTLSConfig builds the client-certificate TLS configuration.
func loadTLSConfig(cfg MQTTConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   cfg.Host,
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca file %s: no certificates found", cfg.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// Connect opens the session. It returns once the CONNECT completes, fails,
// or the timeout or ctx expires. While the broker is unreachable the client
// keeps dialing in the background after Connect has returned. The status
// only becomes Connected through the acknowledgment callback.
func (b *BrokerClient) Connect(ctx context.Context) error {
	tok := b.client.Connect()

	timer := time.NewTimer(b.connectTimeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
	case <-ctx.Done():
		return &ConnectError{Broker: b.broker, Code: packets.ErrNetworkError, Err: ctx.Err()}
	case <-timer.C:
		// The client is still dialing; onConnect may yet flip the status.
		return &ConnectError{Broker: b.broker, Code: packets.ErrNetworkError,
			Err: fmt.Errorf("no connack within %s", b.connectTimeout)}
	}

	if err := tok.Error(); err != nil {
		b.setStatus(Disconnected)
		return &ConnectError{Broker: b.broker, Code: connackCode(tok, err), Err: err}
	}
	return nil
}

// connackCode recovers the CONNACK return code behind a failed connect.
func connackCode(tok mqtt.Token, err error) byte {
	if ct, ok := tok.(*mqtt.ConnectToken); ok && ct.ReturnCode() != packets.Accepted {
		return ct.ReturnCode()
	}
	for code, known := range packets.ConnErrors {
		if known != nil && errors.Is(err, known) {
			return code
		}
	}
	return packets.ErrNetworkError
}

// AwaitConnected waits up to d for the connect acknowledgment.
func (b *BrokerClient) AwaitConnected(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		if b.Status() == Connected {
			return true
		}
		select {
		case <-b.ack:
		case <-timer.C:
			return b.Status() == Connected
		case <-ctx.Done():
			return false
		}
	}
}

// Subscribe registers the command topics. They are re-subscribed on every
// reconnect.
func (b *BrokerClient) Subscribe(topics []string) error {
	b.mu.Lock()
	b.topics = append([]string(nil), topics...)
	b.mu.Unlock()

	tok := b.client.SubscribeMultiple(b.filters(), b.onMessage)
	if !tok.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe %v: timed out", topics)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("subscribe %v: %w", topics, err)
	}
	return nil
}

func (b *BrokerClient) filters() map[string]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := make(map[string]byte, len(b.topics))
	for _, t := range b.topics {
		f[t] = b.qos
	}
	return f
}

// Publish hands value to the client without waiting for delivery. Failures
// are logged when the token completes.
func (b *BrokerClient) Publish(topic string, value any) {
	payload, err := encodePayload(value)
	if err != nil {
		b.log.Warn("Failed to encode payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	tok := b.client.Publish(topic, b.qos, false, payload)
	if b.metrics != nil {
		b.metrics.Published.WithLabelValues(topic).Inc()
	}
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			b.log.Warn("Publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// encodePayload turns a value into an MQTT payload: strings and bytes as is,
// floats in shortest decimal form, everything else as JSON.
func encodePayload(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case float64:
		return []byte(FormatValue(v)), nil
	case float32:
		return []byte(FormatValue(float64(v))), nil
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}

// Messages returns the inbound queue.
func (b *BrokerClient) Messages() <-chan Message {
	return b.queue
}

// Status returns the last acknowledged connection state.
func (b *BrokerClient) Status() ConnectionStatus {
	return ConnectionStatus(b.status.Load())
}

// Disconnect stops the network listener and closes the inbound queue. It is
// safe to call more than once.
func (b *BrokerClient) Disconnect() {
	b.once.Do(func() {
		b.client.Disconnect(250)
		b.setStatus(Disconnected)

		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
	})
}

func (b *BrokerClient) onConnect(c mqtt.Client) {
	b.setStatus(Connected)
	b.log.Info("Connected to broker...OK", zap.String("broker", b.broker))

	select {
	case b.ack <- struct{}{}:
	default:
	}

	filters := b.filters()
	if len(filters) == 0 {
		return
	}
	// Re-subscribe after a reconnect; the handler goroutine must not block.
	tok := c.SubscribeMultiple(filters, b.onMessage)
	go func() {
		<-tok.Done()
		if err := tok.Error(); err != nil {
			b.log.Warn("Resubscribe failed", zap.Error(err))
		}
	}()
}

func (b *BrokerClient) onConnectionLost(_ mqtt.Client, err error) {
	b.setStatus(Disconnected)
	b.log.Warn("Connection to broker lost", zap.String("broker", b.broker), zap.Error(err))
}

func (b *BrokerClient) onMessage(_ mqtt.Client, msg mqtt.Message) {
	b.deliver(msg.Topic(), msg.Payload())
}

// deliver enqueues one inbound message, dropping it when the rate limit is
// exceeded, the queue is full, or the client is closed.
func (b *BrokerClient) deliver(topic string, payload []byte) {
	if !b.limiter.Allow() {
		b.drop("Inbound rate limit exceeded, dropping message", topic)
		return
	}

	m := Message{Topic: topic, Payload: append([]byte(nil), payload...)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- m:
	default:
		b.drop("Inbound queue full, dropping message", topic)
	}
}

func (b *BrokerClient) drop(reason, topic string) {
	if b.metrics != nil {
		b.metrics.DroppedInbound.Inc()
	}
	b.log.Warn(reason, zap.String("topic", topic))
}

func (b *BrokerClient) setStatus(s ConnectionStatus) {
	b.status.Store(int32(s))
	if b.metrics != nil {
		b.metrics.observeConnected(s == Connected)
	}
}
