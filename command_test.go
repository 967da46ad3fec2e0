package main

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	routes := DefaultRoutes()
	tests := []struct {
		topic   string
		payload string
		want    Command
	}{
		{"RPi/Input/led1", "1", Command{Pin: LED1, On: true, Value: 1}},
		{"RPi/Input/led1", "0", Command{Pin: LED1, On: false, Value: 0}},
		{"RPi/Input/led2", "7", Command{Pin: LED2, On: true, Value: 7}},
		{"RPi/Input/relay1", "-1", Command{Pin: RELAY1, On: true, Value: -1}},
		{"RPi/Input/relay1", " 0\n", Command{Pin: RELAY1, On: false, Value: 0}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.topic, []byte(tt.payload), routes)
		if err != nil {
			t.Errorf("ParseCommand(%q, %q) error: %v", tt.topic, tt.payload, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCommand(%q, %q) = %+v, want %+v", tt.topic, tt.payload, got, tt.want)
		}
	}
}

func TestParseCommand_Malformed(t *testing.T) {
	for _, payload := range []string{"", "on", "1.0", "true", "0x1"} {
		_, err := ParseCommand("RPi/Input/led1", []byte(payload), DefaultRoutes())
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("payload %q: want *ParseError, got %v", payload, err)
			continue
		}
		if pe.Topic != "RPi/Input/led1" || pe.Payload != payload {
			t.Errorf("ParseError fields = %+v", pe)
		}
	}
}

func TestParseCommand_Unmapped(t *testing.T) {
	_, err := ParseCommand("RPi/Input/relay2", []byte("1"), DefaultRoutes())
	if !errors.Is(err, ErrUnmappedTopic) {
		t.Errorf("want ErrUnmappedTopic, got %v", err)
	}
}

func TestSubscriptionTopics(t *testing.T) {
	got := subscriptionTopics(DefaultRoutes())
	want := []string{"RPi/Input/led1", "RPi/Input/led2", "RPi/Input/relay1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("subscriptionTopics = %v, want %v", got, want)
	}
}
