package main

import (
	"errors"
	"fmt"
)

// ErrUnmappedTopic is returned by ParseCommand for topics that do not route
// to any pin. Such messages are ignored.
var ErrUnmappedTopic = errors.New("topic not mapped to a pin")

// ConnectError reports a failed broker connection: either the TLS/network
// handshake failed (Code is 0xFE) or the broker refused the CONNECT.
type ConnectError struct {
	Broker string
	Code   byte // CONNACK return code
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (code %d): %v", e.Broker, e.Code, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SensorError reports a failed sensor transaction.
type SensorError struct {
	Op  string
	Err error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("sensor %s: %v", e.Op, e.Err)
}

func (e *SensorError) Unwrap() error { return e.Err }

// ParseError reports an inbound payload that is not an integer truth value.
type ParseError struct {
	Topic   string
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse payload %q from %s: %v", e.Payload, e.Topic, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DisplayError reports a failed draw or flush on the display panel.
type DisplayError struct {
	Op  string
	Err error
}

func (e *DisplayError) Error() string {
	return fmt.Sprintf("display %s: %v", e.Op, e.Err)
}

func (e *DisplayError) Unwrap() error { return e.Err }
