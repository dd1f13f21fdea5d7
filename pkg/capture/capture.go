// Package capture is the boundary to depth cameras.
//
// A Device yields Z16 depth frames one at a time and lets the caller pick the
// depth units (the scale between a raw 16-bit sample and meters).
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/depthstream/depthstream/pkg/logger"
)

var (
	ErrCaptureTimeout = errors.New("capture: timed out waiting for a frame")
	ErrDevice         = errors.New("capture: device error")
)

// Error is a failed frame acquisition. Err is ErrCaptureTimeout or
// wraps ErrDevice.
type Error struct {
	Source string
	// Frame is the number of the last frame delivered.
	Frame uint64
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture: %v source failed after frame %v: %v", e.Source, e.Frame, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WrapError turns acquisition failures into *Error, context errors are kept as is.
func WrapError(source string, frame uint64, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{Source: source, Frame: frame, Err: err}
}

// Config is the requested stream geometry and session length.
type Config struct {
	Width      int
	Height     int
	Framerate  int
	DepthUnits float32
	Seconds    int
}

// Frames returns how many frames a session of this config should capture.
func (c Config) Frames() int { return c.Framerate * c.Seconds }

// DepthFrame is a borrowed view of one Z16 frame.
// Data is only valid until the next NextFrame call on the same source.
type DepthFrame struct {
	Width  int
	Height int
	// Stride is the row size in bytes, at least 2*Width.
	Stride int
	Number uint64
	Data   []byte
}

// Size returns the number of bytes covered by the frame rows.
func (f DepthFrame) Size() int { return f.Stride * f.Height }

// At returns the raw depth sample at x, y.
func (f DepthFrame) At(x, y int) uint16 {
	return binary.LittleEndian.Uint16(f.Data[y*f.Stride+2*x:])
}

type Source interface {
	// NextFrame blocks until the device produces a frame.
	NextFrame(ctx context.Context) (DepthFrame, error)
	Close() error
}

type Sensor interface {
	SetDepthUnits(units float32) error
	DepthUnitsRange() Range
}

type Device interface {
	Source
	Sensor
}

// Range is a closed interval of valid option values.
type Range struct {
	Min float32
	Max float32
}

func (r Range) Contains(v float32) bool { return v >= r.Min && v <= r.Max }

// DefaultDepthUnitsRange is the depth units range of the D400 family.
var DefaultDepthUnitsRange = Range{Min: 0.000001, Max: 0.01}

// ConfigError reports an option value rejected by the device together
// with the range it accepts.
type ConfigError struct {
	Option string
	Value  float32
	Range  Range
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("failed to set %v to %v (range is %v-%v)", e.Option, e.Value, e.Range.Min, e.Range.Max)
}

// depthUnits implements Sensor over a fixed range.
type depthUnits struct {
	rng   Range
	units float32
}

func (d *depthUnits) SetDepthUnits(units float32) error {
	if math.IsNaN(float64(units)) || !d.rng.Contains(units) {
		return &ConfigError{Option: "depth units", Value: units, Range: d.rng}
	}
	d.units = units
	return nil
}

func (d *depthUnits) DepthUnitsRange() Range { return d.rng }

// NewSensor returns a Sensor accepting depth units within rng.
func NewSensor(rng Range, units float32) Sensor { return &depthUnits{rng: rng, units: units} }

// Describe tells what the depth units mean for the stream.
// Range is the farthest representable distance, precision is the
// distance step kept after 10-bit encoding (6 low bits are lost).
func Describe(units float32) (rangeM, precisionM float64) {
	return float64(units) * math.MaxUint16, float64(units) * 64
}

// Options configure a Device when it is opened.
type Options struct {
	Config
	// Timeout bounds a single NextFrame wait.
	Timeout time.Duration
	// Align rounds the row stride up to a multiple of it, in bytes.
	Align int
	// Pace makes generated frames arrive at the framerate.
	Pace           bool
	DepthUnitRange Range
	// Dir is where the replay source reads raw frames from.
	Dir  string
	Loop bool
	// Device is a device path for hardware sources.
	Device string
	Log    *logger.Logger
}

type Factory func(opts Options) (Device, error)

var (
	mu      sync.RWMutex
	sources = map[string]Factory{}
)

// Register makes a capture source available by name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := sources[name]; dup {
		panic("capture: Register called twice for source " + name)
	}
	sources[name] = f
}

// Sources returns the names of registered sources.
func Sources() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(sources))
	for n := range sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Open configures the named source for the requested stream.
func Open(name string, opts Options) (Device, error) {
	mu.RLock()
	f, ok := sources[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q, have %v", ErrDevice, name, Sources())
	}
	if opts.Width <= 0 || opts.Height <= 0 || opts.Framerate <= 0 {
		return nil, fmt.Errorf("%w: bad stream geometry %vx%v@%v", ErrDevice, opts.Width, opts.Height, opts.Framerate)
	}
	if opts.DepthUnitRange == (Range{}) {
		opts.DepthUnitRange = DefaultDepthUnitsRange
	}
	if opts.Log == nil {
		opts.Log = logger.Default()
	}
	return f(opts)
}

// Stride returns the row size in bytes of a Z16 row aligned to align bytes.
func Stride(width, align int) int {
	s := 2 * width
	if align > 1 {
		s = (s + align - 1) / align * align
	}
	return s
}
