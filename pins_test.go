package main

import (
	"sync"
	"testing"
)

func TestPinState_StartsOff(t *testing.T) {
	s := NewPinState()
	for _, p := range AllPins {
		if s.Get(p) {
			t.Errorf("%s should start off", p)
		}
	}
}

func TestPinState_LastCommandWins(t *testing.T) {
	sequences := [][]bool{
		{true},
		{false},
		{true, true},
		{true, false},
		{false, true, true, false, true},
		{true, false, false, false},
	}

	for _, pin := range AllPins {
		for _, seq := range sequences {
			s := NewPinState()
			for _, v := range seq {
				s.Set(pin, v)
			}
			if got, want := s.Get(pin), seq[len(seq)-1]; got != want {
				t.Errorf("%s after %v = %v, want %v", pin, seq, got, want)
			}
		}
	}
}

func TestPinState_SetReportsChange(t *testing.T) {
	s := NewPinState()

	if s.Set(LED1, false) {
		t.Error("setting off on an off pin should not report a change")
	}
	if !s.Set(LED1, true) {
		t.Error("first on should report a change")
	}
	if s.Set(LED1, true) {
		t.Error("repeated on should not report a change")
	}
	if s.Get(LED2) || s.Get(RELAY1) {
		t.Error("other pins must not be affected")
	}
}

func TestPinState_Concurrent(t *testing.T) {
	s := NewPinState()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Set(AllPins[i%len(AllPins)], i%2 == 0)
			_ = s.Snapshot()
		}(i)
	}
	wg.Wait()
	if len(s.Snapshot()) != len(AllPins) {
		t.Errorf("snapshot has %d pins, want %d", len(s.Snapshot()), len(AllPins))
	}
}

func TestPinState_String(t *testing.T) {
	s := NewPinState()
	s.Set(LED2, true)
	if got, want := s.String(), "LED1=OFF LED2=ON Relay 1=OFF"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestTransitionMessage(t *testing.T) {
	tests := []struct {
		pin     Pin
		desired bool
		changed bool
		want    string
	}{
		{LED1, true, true, "LED1: ON"},
		{LED1, true, false, "LED1: Already ON"},
		{LED2, false, true, "LED2: OFF"},
		{RELAY1, false, false, "Relay 1: Already OFF"},
	}
	for _, tt := range tests {
		if got := transitionMessage(tt.pin, tt.desired, tt.changed); got != tt.want {
			t.Errorf("transitionMessage(%s, %v, %v) = %q, want %q", tt.pin, tt.desired, tt.changed, got, tt.want)
		}
	}
}

func TestParsePin(t *testing.T) {
	for _, p := range AllPins {
		got, err := ParsePin(p.Key())
		if err != nil || got != p {
			t.Errorf("ParsePin(%q) = %v, %v", p.Key(), got, err)
		}
	}
	if got, err := ParsePin(" LED1 "); err != nil || got != LED1 {
		t.Errorf("ParsePin should be case and space insensitive, got %v, %v", got, err)
	}
	if _, err := ParsePin("relay2"); err == nil {
		t.Error("ParsePin(relay2) should fail")
	}
}
