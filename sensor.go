package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Reading is one sampled temperature/humidity pair.
type Reading struct {
	Temperature float64 // degrees Celsius
	Humidity    float64 // relative humidity, percent
	Time        time.Time
}

// SensorReader produces readings. Implementations return *SensorError on
// failure and do not retry.
type SensorReader interface {
	Read(ctx context.Context) (Reading, error)
	Close() error
}

// round4 rounds v to 4 decimal places.
func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// FormatValue renders v in its shortest decimal form (22.5 -> "22.5").
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadWithTimeout bounds a single read by timeout. A read that does not
// return in time yields a *SensorError wrapping context.DeadlineExceeded.
func ReadWithTimeout(ctx context.Context, s SensorReader, timeout time.Duration) (Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		r   Reading
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := s.Read(ctx)
		done <- result{r, err}
	}()

	select {
	case res := <-done:
		var se *SensorError
		if res.err != nil && !errors.As(res.err, &se) {
			return Reading{}, &SensorError{Op: "read", Err: res.err}
		}
		return res.r, res.err
	case <-ctx.Done():
		return Reading{}, &SensorError{Op: "read", Err: ctx.Err()}
	}
}

// ============================================================================
// AHT20
// ============================================================================

const (
	aht20DefaultAddr = 0x38

	aht20StatusBusy       = 0x80
	aht20StatusCalibrated = 0x08
)

var (
	aht20CmdInit    = []byte{0xBE, 0x08, 0x00}
	aht20CmdMeasure = []byte{0xAC, 0x33, 0x00}

	errSensorBusy  = errors.New("measurement not ready")
	errSensorCRC   = errors.New("crc mismatch")
	errSensorCalib = errors.New("sensor not calibrated")
)

// AHT20 drives an Aosong AHT20 over I2C.
type AHT20 struct {
	dev   i2c.Dev
	bus   i2c.BusCloser // nil when the bus is owned by the caller
	mu    sync.Mutex
	ready bool

	powerUpDelay time.Duration
	measureDelay time.Duration
	pollDelay    time.Duration
	maxPolls     int
	now          func() time.Time
}

// OpenAHT20 initialises the periph host and opens busName ("" selects the
// first available bus).
func OpenAHT20(busName string, addr uint16) (*AHT20, error) {
	if _, err := host.Init(); err != nil {
		return nil, &SensorError{Op: "init host", Err: err}
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, &SensorError{Op: "open bus", Err: fmt.Errorf("open i2c %q: %w", busName, err)}
	}
	s := NewAHT20(bus, addr)
	s.bus = bus
	return s, nil
}

// NewAHT20 wraps an already opened bus.
func NewAHT20(bus i2c.Bus, addr uint16) *AHT20 {
	if addr == 0 {
		addr = aht20DefaultAddr
	}
	return &AHT20{
		dev:          i2c.Dev{Bus: bus, Addr: addr},
		powerUpDelay: 40 * time.Millisecond,
		measureDelay: 80 * time.Millisecond,
		pollDelay:    10 * time.Millisecond,
		maxPolls:     5,
		now:          time.Now,
	}
}

// Read triggers a measurement and decodes it.
func (s *AHT20) Read(ctx context.Context) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		if err := s.calibrate(ctx); err != nil {
			return Reading{}, err
		}
		s.ready = true
	}

	if err := s.dev.Tx(aht20CmdMeasure, nil); err != nil {
		return Reading{}, &SensorError{Op: "trigger", Err: err}
	}
	if err := sleepCtx(ctx, s.measureDelay); err != nil {
		return Reading{}, &SensorError{Op: "trigger", Err: err}
	}

	buf := make([]byte, 7)
	for poll := 0; ; poll++ {
		if err := s.dev.Tx(nil, buf); err != nil {
			return Reading{}, &SensorError{Op: "read", Err: err}
		}
		if buf[0]&aht20StatusBusy == 0 {
			break
		}
		if poll+1 >= s.maxPolls {
			return Reading{}, &SensorError{Op: "read", Err: errSensorBusy}
		}
		if err := sleepCtx(ctx, s.pollDelay); err != nil {
			return Reading{}, &SensorError{Op: "read", Err: err}
		}
	}

	if crc8(buf[:6]) != buf[6] {
		return Reading{}, &SensorError{Op: "read", Err: errSensorCRC}
	}

	temp, humi := decodeAHT20(buf[1:6])
	return Reading{
		Temperature: round4(temp),
		Humidity:    round4(humi),
		Time:        s.now(),
	}, nil
}

func (s *AHT20) calibrate(ctx context.Context) error {
	if err := sleepCtx(ctx, s.powerUpDelay); err != nil {
		return &SensorError{Op: "init", Err: err}
	}
	status := make([]byte, 1)
	if err := s.dev.Tx(nil, status); err != nil {
		return &SensorError{Op: "status", Err: err}
	}
	if status[0]&aht20StatusCalibrated != 0 {
		return nil
	}
	if err := s.dev.Tx(aht20CmdInit, nil); err != nil {
		return &SensorError{Op: "init", Err: err}
	}
	if err := sleepCtx(ctx, s.pollDelay); err != nil {
		return &SensorError{Op: "init", Err: err}
	}
	if err := s.dev.Tx(nil, status); err != nil {
		return &SensorError{Op: "status", Err: err}
	}
	if status[0]&aht20StatusCalibrated == 0 {
		return &SensorError{Op: "init", Err: errSensorCalib}
	}
	return nil
}

// Close releases the bus if it was opened by OpenAHT20.
func (s *AHT20) Close() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Close()
}

// decodeAHT20 converts the five data bytes into temperature and humidity.
// Humidity occupies the first 20 bits, temperature the last 20.
func decodeAHT20(d []byte) (temp, humi float64) {
	rawHumi := uint32(d[0])<<12 | uint32(d[1])<<4 | uint32(d[2])>>4
	rawTemp := uint32(d[2]&0x0F)<<16 | uint32(d[3])<<8 | uint32(d[4])
	humi = float64(rawHumi) / (1 << 20) * 100
	temp = float64(rawTemp)/(1<<20)*200 - 50
	return temp, humi
}

// crc8 is CRC-8 with polynomial 0x31 and initial value 0xFF.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
