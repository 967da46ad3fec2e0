package main

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		cfg     LogConfig
		wantErr bool
		debug   bool
	}{
		{LogConfig{Level: "info", Format: "console"}, false, false},
		{LogConfig{Level: "DEBUG", Format: "json"}, false, true},
		{LogConfig{Level: "warn"}, false, false},
		{LogConfig{Level: "verbose"}, true, false},
		{LogConfig{Level: "info", Format: "xml"}, true, false},
	}
	for _, tt := range tests {
		logger, err := newLogger(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("newLogger(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tt.debug {
			t.Errorf("newLogger(%+v) debug enabled = %v", tt.cfg, got)
		}
	}
}
