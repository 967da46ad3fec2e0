package main

import (
	"errors"
	"testing"
)

type fakeLine struct {
	values []int
	closed bool
	err    error
}

func (l *fakeLine) SetValue(v int) error {
	if l.err != nil {
		return l.err
	}
	l.values = append(l.values, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.closed = true
	return nil
}

func TestGPIOValue(t *testing.T) {
	tests := []struct {
		on, inverted bool
		want         int
	}{
		{true, false, 1},
		{false, false, 0},
		{true, true, 0},
		{false, true, 1},
	}
	for _, tt := range tests {
		if got := gpioValue(tt.on, tt.inverted); got != tt.want {
			t.Errorf("gpioValue(%v, %v) = %d, want %d", tt.on, tt.inverted, got, tt.want)
		}
	}
}

func TestGPIODriver_Set(t *testing.T) {
	led := &fakeLine{}
	d := &gpioDriver{lines: map[Pin]outputLine{LED1: led}, inverted: true}

	if err := d.Set(LED1, true); err != nil {
		t.Fatal(err)
	}
	if err := d.Set(LED1, false); err != nil {
		t.Fatal(err)
	}
	if len(led.values) != 2 || led.values[0] != 0 || led.values[1] != 1 {
		t.Errorf("inverted line values = %v, want [0 1]", led.values)
	}

	// Pins without a line stay logical.
	if err := d.Set(RELAY1, true); err != nil {
		t.Errorf("Set on unmapped pin: %v", err)
	}
}

func TestGPIODriver_SetError(t *testing.T) {
	d := &gpioDriver{lines: map[Pin]outputLine{LED2: &fakeLine{err: errHardware}}}
	if err := d.Set(LED2, true); !errors.Is(err, errHardware) {
		t.Errorf("Set = %v, want wrapped line error", err)
	}
}

func TestGPIODriver_Close(t *testing.T) {
	a, b := &fakeLine{}, &fakeLine{}
	d := &gpioDriver{lines: map[Pin]outputLine{LED1: a, LED2: b}}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Error("lines not released")
	}
	if err := d.Set(LED1, true); err != nil {
		t.Errorf("Set after Close: %v", err)
	}
}

func TestNewPinDriver_WithoutChip(t *testing.T) {
	d, err := NewPinDriver(GPIOConfig{Lines: map[string]int{"led1": 17}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.(noopDriver); !ok {
		t.Errorf("driver = %T, want noopDriver", d)
	}
	if err := d.Set(LED1, true); err != nil {
		t.Error(err)
	}
}
