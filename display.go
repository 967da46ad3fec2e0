package main

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"
)

// Placeholder is shown instead of a value when no reading is available.
const Placeholder = "---"

// lineOffsets are the top y coordinates of the three status lines.
var lineOffsets = [3]int{0, 10, 23}

// statusFace is basicfont.Face7x13 set to a 6px advance. Its glyph masks are
// 6px wide, so nothing is cut and 21 glyphs fit a 128px line.
var statusFace = func() *basicfont.Face {
	f := *basicfont.Face7x13
	f.Advance = 6
	return &f
}()

// capHeight is the distance from the top of a capital glyph to the baseline
// in basicfont.Face7x13.
const capHeight = 9

// Panel is a monochrome display that accepts whole frames.
// *ssd1306.Dev satisfies it.
type Panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// Frame holds the three text lines of one rendered screen.
type Frame [3]string

// Renderer draws the status frame onto a Panel.
type Renderer struct {
	panel Panel
	label string
	face  font.Face

	mu   sync.Mutex
	last Frame
	bus  i2c.BusCloser
}

// NewRenderer returns a renderer for panel. label prefixes the connection
// line, e.g. "AZURE CONNECTION".
func NewRenderer(panel Panel, label string) *Renderer {
	return &Renderer{
		panel: panel,
		label: label,
		face:  statusFace,
	}
}

// OpenSSD1306 initialises the periph host and opens an SSD1306 on busName.
func OpenSSD1306(busName string, width, height int, label string) (*Renderer, error) {
	if _, err := host.Init(); err != nil {
		return nil, &DisplayError{Op: "init host", Err: err}
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, &DisplayError{Op: "open bus", Err: fmt.Errorf("open i2c %q: %w", busName, err)}
	}
	opts := ssd1306.DefaultOpts
	opts.W = width
	opts.H = height
	// 128x32 modules wire the COM pins sequentially.
	opts.Sequential = height == 32
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, &DisplayError{Op: "open ssd1306", Err: err}
	}
	r := NewRenderer(dev, label)
	r.bus = bus
	return r, nil
}

// FormatFrame builds the three status lines.
func (r *Renderer) FormatFrame(temperature, humidity string, connected bool) Frame {
	return Frame{
		fmt.Sprintf("TEMP: %s *C", temperature),
		fmt.Sprintf("HUMI: %s %%", humidity),
		fmt.Sprintf("%s: %s", r.label, getStateString(connected)),
	}
}

// Render redraws the whole screen and flushes it to the panel.
func (r *Renderer) Render(temperature, humidity string, connected bool) error {
	frame := r.FormatFrame(temperature, humidity, connected)

	bounds := r.panel.Bounds()
	img := image1bit.NewVerticalLSB(bounds)
	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: r.face,
	}
	for i, line := range frame {
		d.Dot = fixed.P(bounds.Min.X, bounds.Min.Y+lineOffsets[i]+capHeight)
		d.DrawString(line)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.panel.Draw(bounds, img, image.Point{}); err != nil {
		return &DisplayError{Op: "draw", Err: err}
	}
	r.last = frame
	return nil
}

// RenderReading renders a sensor reading.
func (r *Renderer) RenderReading(rd Reading, connected bool) error {
	return r.Render(FormatValue(rd.Temperature), FormatValue(rd.Humidity), connected)
}

// RenderPlaceholder shows the shutdown screen.
func (r *Renderer) RenderPlaceholder() error {
	return r.Render(Placeholder, Placeholder, false)
}

// Frame returns the last frame successfully flushed to the panel.
func (r *Renderer) Frame() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Close releases the bus. The panel keeps showing the last frame.
func (r *Renderer) Close() error {
	if r.bus == nil {
		return nil
	}
	if err := r.bus.Close(); err != nil {
		return &DisplayError{Op: "close bus", Err: err}
	}
	return nil
}

// nullPanel stands in when no display is attached.
type nullPanel struct {
	bounds image.Rectangle
}

func newNullPanel(width, height int) *nullPanel {
	return &nullPanel{bounds: image.Rect(0, 0, width, height)}
}

func (p *nullPanel) Bounds() image.Rectangle                              { return p.bounds }
func (p *nullPanel) Draw(image.Rectangle, image.Image, image.Point) error { return nil }
