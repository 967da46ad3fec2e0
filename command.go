package main

import (
	"fmt"
	"strconv"
	"strings"
)

// Message is one inbound publish as received from the broker.
type Message struct {
	Topic   string
	Payload []byte
}

// Command is an inbound message resolved to a pin and a desired state.
type Command struct {
	Pin   Pin
	On    bool
	Value int // integer as received; nonzero means on
}

// DefaultRoutes maps the stock command topics to their pins.
func DefaultRoutes() map[string]Pin {
	return map[string]Pin{
		"RPi/Input/led1":   LED1,
		"RPi/Input/led2":   LED2,
		"RPi/Input/relay1": RELAY1,
	}
}

// ParseCommand resolves topic through routes and parses payload as an ASCII
// integer truth value. Topics without a route yield ErrUnmappedTopic;
// payloads that are not integers yield *ParseError.
func ParseCommand(topic string, payload []byte, routes map[string]Pin) (Command, error) {
	pin, ok := routes[topic]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrUnmappedTopic, topic)
	}

	raw := string(payload)
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return Command{}, &ParseError{Topic: topic, Payload: raw, Err: err}
	}
	return Command{Pin: pin, On: v != 0, Value: v}, nil
}

// subscriptionTopics returns the command topics in a stable order.
func subscriptionTopics(routes map[string]Pin) []string {
	byPin := make(map[Pin]string, len(routes))
	for topic, pin := range routes {
		byPin[pin] = topic
	}
	topics := make([]string, 0, len(routes))
	for _, p := range AllPins {
		if t, ok := byPin[p]; ok {
			topics = append(topics, t)
		}
	}
	return topics
}
