package main

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{&SensorError{Op: "read", Err: errHardware}, 2},
		{fmt.Errorf("open sensor: %w", &SensorError{Op: "open bus", Err: errHardware}), 2},
		{&DisplayError{Op: "draw", Err: errHardware}, 3},
		{errors.Join(&DisplayError{Op: "draw", Err: errHardware}, errors.New("close")), 3},
		{errors.New("create broker client"), 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
