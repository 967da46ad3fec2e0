package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Pin identifies a logical output controlled by inbound commands.
type Pin int

const (
	LED1 Pin = iota
	LED2
	RELAY1
)

// AllPins lists every known pin in display order.
var AllPins = []Pin{LED1, LED2, RELAY1}

// String returns the label used in log output.
func (p Pin) String() string {
	switch p {
	case LED1:
		return "LED1"
	case LED2:
		return "LED2"
	case RELAY1:
		return "Relay 1"
	default:
		return fmt.Sprintf("Pin(%d)", int(p))
	}
}

// Key returns the configuration key of the pin ("led1", "led2", "relay1").
func (p Pin) Key() string {
	switch p {
	case LED1:
		return "led1"
	case LED2:
		return "led2"
	case RELAY1:
		return "relay1"
	default:
		return ""
	}
}

// ParsePin resolves a configuration key to a Pin. Unknown names are rejected.
func ParsePin(name string) (Pin, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, p := range AllPins {
		if p.Key() == key {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown pin %q", name)
}

// PinState holds the last commanded value of every pin. All pins start off.
type PinState struct {
	mu     sync.Mutex
	values map[Pin]bool
}

// NewPinState creates a PinState with every known pin set to false.
func NewPinState() *PinState {
	values := make(map[Pin]bool, len(AllPins))
	for _, p := range AllPins {
		values[p] = false
	}
	return &PinState{values: values}
}

// Set stores the desired value and reports whether it differed from the
// previous one.
func (s *PinState) Set(pin Pin, desired bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.values[pin] == desired {
		return false
	}
	s.values[pin] = desired
	return true
}

// Get returns the current value of pin.
func (s *PinState) Get(pin Pin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[pin]
}

// Snapshot returns a copy of all pin values.
func (s *PinState) Snapshot() map[Pin]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[Pin]bool, len(s.values))
	for p, v := range s.values {
		out[p] = v
	}
	return out
}

// String renders the state as "LED1=OFF LED2=ON ..." in pin order.
func (s *PinState) String() string {
	snap := s.Snapshot()
	pins := make([]Pin, 0, len(snap))
	for p := range snap {
		pins = append(pins, p)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })

	parts := make([]string, 0, len(pins))
	for _, p := range pins {
		parts = append(parts, fmt.Sprintf("%s=%s", p, getStateString(snap[p])))
	}
	return strings.Join(parts, " ")
}

// transitionMessage returns the log line for applying desired to a pin,
// e.g. "LED1: ON" or "LED1: Already ON".
func transitionMessage(pin Pin, desired, changed bool) string {
	if changed {
		return fmt.Sprintf("%s: %s", pin, getStateString(desired))
	}
	return fmt.Sprintf("%s: Already %s", pin, getStateString(desired))
}

// getStateString converts a boolean state to "ON" or "OFF" string
func getStateString(isOn bool) string {
	if isOn {
		return "ON"
	}
	return "OFF"
}
