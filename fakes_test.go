package main

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is an already completed paho token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	payload string
}

// fakeClient implements mqtt.Client in memory.
type fakeClient struct {
	mu          sync.Mutex
	connectErr  error
	onConnect   func(mqtt.Client) // simulates the CONNACK callback on success
	published   []publishCall
	subscribes  []map[string]byte
	handler     mqtt.MessageHandler
	disconnects int
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	err, cb := c.connectErr, c.onConnect
	c.mu.Unlock()
	if err == nil && cb != nil {
		cb(c)
	}
	return newFakeToken(err)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s string
	switch p := payload.(type) {
	case []byte:
		s = string(p)
	case string:
		s = p
	}
	c.published = append(c.published, publishCall{topic: topic, qos: qos, payload: s})
	return newFakeToken(nil)
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	return c.SubscribeMultiple(map[string]byte{topic: qos}, cb)
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes = append(c.subscribes, filters)
	c.handler = cb
	return newFakeToken(nil)
}

func (c *fakeClient) Unsubscribe(...string) mqtt.Token        { return newFakeToken(nil) }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

// send delivers an inbound message the way paho's router would.
func (c *fakeClient) send(topic, payload string) bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(c, &fakeMessage{topic: topic, payload: []byte(payload)})
	return true
}

func (c *fakeClient) hasHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func (c *fakeClient) publishes() []publishCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishCall(nil), c.published...)
}

func (c *fakeClient) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeSensor returns fixed readings or errors.
type fakeSensor struct {
	mu      sync.Mutex
	reading Reading
	err     error
	reads   int
	closed  int
}

func (s *fakeSensor) Read(context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return Reading{}, &SensorError{Op: "read", Err: s.err}
	}
	r := s.reading
	r.Time = time.Now()
	return r, nil
}

func (s *fakeSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSensor) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// fakePanel records the last frame drawn.
type fakePanel struct {
	mu    sync.Mutex
	last  image.Image
	draws int
	err   error
}

func (p *fakePanel) Bounds() image.Rectangle { return image.Rect(0, 0, 128, 32) }

func (p *fakePanel) Draw(_ image.Rectangle, src image.Image, _ image.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.draws++
	p.last = src
	return nil
}

var errHardware = errors.New("i/o timeout")

// waitFor polls cond until it holds or the test deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
