package main

import (
	"errors"
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"
)

// PinDriver mirrors logical pin values onto hardware outputs.
type PinDriver interface {
	// Set drives the output for pin to the logical value on
	Set(pin Pin, on bool) error
	// Close releases all lines and the chip
	Close() error
}

// outputLine is the subset of *gpiod.Line the driver uses.
type outputLine interface {
	SetValue(value int) error
	Close() error
}

// gpioDriver implements PinDriver on a GPIO character device
type gpioDriver struct {
	chip     *gpiod.Chip
	lines    map[Pin]outputLine
	inverted bool
	mu       sync.Mutex
}

// NewPinDriver opens cfg.Chip and requests one output line per configured
// pin, all initially off. An empty chip name yields a driver that does
// nothing, so the agent runs on machines without GPIO.
func NewPinDriver(cfg GPIOConfig) (PinDriver, error) {
	if cfg.Chip == "" || len(cfg.Lines) == 0 {
		return noopDriver{}, nil
	}

	chip, err := gpiod.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open chip %s: %w", cfg.Chip, err)
	}

	d := &gpioDriver{
		chip:     chip,
		lines:    make(map[Pin]outputLine, len(cfg.Lines)),
		inverted: cfg.Inverted,
	}
	for key, offset := range cfg.Lines {
		pin, err := ParsePin(key)
		if err != nil {
			d.Close()
			return nil, err
		}
		line, err := chip.RequestLine(offset, gpiod.AsOutput(gpioValue(false, cfg.Inverted)))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request output pin %d: %w", offset, err)
		}
		d.lines[pin] = line
	}
	return d, nil
}

func (g *gpioDriver) Set(pin Pin, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	line, ok := g.lines[pin]
	if !ok {
		// Pins without a physical line are logical only.
		return nil
	}
	if err := line.SetValue(gpioValue(on, g.inverted)); err != nil {
		return fmt.Errorf("set output %s: %w", pin, err)
	}
	return nil
}

func (g *gpioDriver) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	for pin, line := range g.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output line %s: %w", pin, err))
		}
	}
	g.lines = make(map[Pin]outputLine)

	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}
	return errors.Join(errs...)
}

type noopDriver struct{}

func (noopDriver) Set(Pin, bool) error { return nil }
func (noopDriver) Close() error        { return nil }

// gpioValue converts a logical state to a line value considering inversion
func gpioValue(on, inverted bool) int {
	if on != inverted {
		return 1
	}
	return 0
}
