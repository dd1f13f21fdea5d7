package config

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/depthstream/depthstream/pkg/capture"
	"github.com/depthstream/depthstream/pkg/encoder"
	"github.com/depthstream/depthstream/pkg/monitoring"
	"github.com/spf13/pflag"
)

type Config struct {
	Capture    Capture
	Encoder    Encoder
	Output     Output
	Recording  Recording
	Monitoring monitoring.Config
	Log        Log
}

type Capture struct {
	Source     string
	Width      int
	Height     int
	Framerate  int
	DepthUnits float32 `fig:"depth_units"`
	Seconds    int
	// Timeout bounds the wait for a single frame.
	Timeout time.Duration
	// Align is the row alignment of generated frames in bytes.
	Align           int
	Pace            bool
	DepthUnitsRange struct {
		Min float32
		Max float32
	} `fig:"depth_units_range"`
	Replay struct {
		Dir  string
		Loop bool
	}
	// Device is the camera device for hardware sources, e.g. /dev/video2.
	Device string
}

type Encoder struct {
	Backend     string
	Binary      string
	Device      string
	Codec       string
	PixelFormat string `fig:"pixel_format"`
	Profile     string
	MaxBFrames  int `fig:"max_b_frames"`
	Bitrate     int
}

type Output struct {
	Path string
}

type Recording struct {
	// Dir enables saving every raw depth frame there.
	Dir string
}

type Log struct {
	Debug   bool
	Json    bool
	NoColor bool `fig:"no_color"`
}

// Default is the built-in configuration, the config file and flags go on top.
func Default() Config {
	return Config{
		Capture: Capture{
			Source:  "synthetic",
			Timeout: 5 * time.Second,
			Align:   64,
			DepthUnitsRange: struct {
				Min float32
				Max float32
			}{Min: capture.DefaultDepthUnitsRange.Min, Max: capture.DefaultDepthUnitsRange.Max},
		},
		Encoder: Encoder{
			Backend:     "ffmpeg",
			Binary:      "ffmpeg",
			Codec:       "hevc_vaapi",
			PixelFormat: "p010le",
			Profile:     "main10",
			MaxBFrames:  2,
		},
		Output:     Output{Path: "output.hevc"},
		Monitoring: monitoring.Config{MetricEnabled: true},
	}
}

// ErrUsage marks bad command line arguments.
var ErrUsage = errors.New("bad arguments")

const Usage = `Usage: depthstream [flags] <width> <height> <framerate> <depth units> <seconds> [device]

examples:
  depthstream 848 480 30 0.0001 5
  depthstream 848 480 30 0.0001 5 /dev/dri/renderD128
`

// Parse builds the configuration from the defaults, the config file,
// the environment and the command line, in that order.
func Parse(args []string, out io.Writer) (Config, error) {
	conf := Default()
	if err := LoadConfig(&conf, configPath(args)); err != nil {
		return conf, fmt.Errorf("%w: config: %v", ErrUsage, err)
	}

	fs := pflag.NewFlagSet("depthstream", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		_, _ = fmt.Fprint(out, Usage, "\nflags:\n", fs.FlagUsages())
	}
	conf.WithFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return conf, err
		}
		return conf, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := conf.ApplyArgs(fs.Args()); err != nil {
		fs.Usage()
		return conf, err
	}
	return conf, nil
}

func configPath(args []string) (path string) {
	fs := pflag.NewFlagSet("conf", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	fs.StringVarP(&path, "conf", "c", "", "")
	_ = fs.Parse(args)
	return
}

// WithFlags defines flags with default values set to the current config params.
func (c *Config) WithFlags(fs *pflag.FlagSet) {
	var path string
	fs.StringVarP(&path, "conf", "c", "", "Set custom configuration file path")
	fs.StringVarP(&c.Output.Path, "output", "o", c.Output.Path, "Output file")
	fs.StringVar(&c.Capture.Source, "source", c.Capture.Source, "Depth source: "+fmt.Sprint(capture.Sources()))
	fs.StringVar(&c.Capture.Replay.Dir, "replay.dir", c.Capture.Replay.Dir, "Directory with raw frames for the replay source")
	fs.StringVar(&c.Capture.Device, "capture.device", c.Capture.Device, "Camera device for hardware sources")
	fs.BoolVar(&c.Capture.Pace, "pace", c.Capture.Pace, "Generate frames at the framerate")
	fs.StringVar(&c.Encoder.Backend, "encoder", c.Encoder.Backend, "Encoder backend: "+fmt.Sprint(encoder.Backends()))
	fs.StringVar(&c.Encoder.Codec, "codec", c.Encoder.Codec, "FFmpeg encoder name")
	fs.StringVar(&c.Encoder.Profile, "profile", c.Encoder.Profile, "Encoder profile")
	fs.IntVar(&c.Encoder.Bitrate, "bitrate", c.Encoder.Bitrate, "Average bitrate in bits/s, 0 for the encoder default")
	fs.IntVar(&c.Encoder.MaxBFrames, "bframes", c.Encoder.MaxBFrames, "Max B-frames, 0 to minimize latency")
	fs.StringVar(&c.Recording.Dir, "recording.dir", c.Recording.Dir, "Save raw depth frames into the directory")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port, 0 to disable")
	fs.BoolVar(&c.Log.Debug, "debug", c.Log.Debug, "Debug logging")
	fs.BoolVar(&c.Log.Json, "json", c.Log.Json, "JSON logging")
}

// ApplyArgs sets the positional arguments:
// width height framerate depth_units seconds [device].
func (c *Config) ApplyArgs(args []string) error {
	if len(args) < 5 || len(args) > 6 {
		return fmt.Errorf("%w: expected 5 or 6 arguments, got %v", ErrUsage, len(args))
	}
	var ints [5]int
	for i, name := range []string{"width", "height", "framerate", "", "seconds"} {
		if name == "" {
			continue
		}
		v, err := strconv.Atoi(args[i])
		if err != nil || v <= 0 {
			return fmt.Errorf("%w: %v should be a positive integer, got %q", ErrUsage, name, args[i])
		}
		ints[i] = v
	}
	if ints[0]%2 != 0 || ints[1]%2 != 0 {
		return fmt.Errorf("%w: width and height should be even, got %vx%v", ErrUsage, ints[0], ints[1])
	}
	units, err := strconv.ParseFloat(args[3], 32)
	if err != nil {
		return fmt.Errorf("%w: depth units should be a number, got %q", ErrUsage, args[3])
	}

	c.Capture.Width, c.Capture.Height, c.Capture.Framerate = ints[0], ints[1], ints[2]
	c.Capture.DepthUnits = float32(units)
	c.Capture.Seconds = ints[4]
	if len(args) == 6 {
		c.Encoder.Device = args[5]
	}
	return nil
}

func (c *Config) CaptureConfig() capture.Config {
	return capture.Config{
		Width:      c.Capture.Width,
		Height:     c.Capture.Height,
		Framerate:  c.Capture.Framerate,
		DepthUnits: c.Capture.DepthUnits,
		Seconds:    c.Capture.Seconds,
	}
}

func (c *Config) CaptureOptions() capture.Options {
	return capture.Options{
		Config:         c.CaptureConfig(),
		Timeout:        c.Capture.Timeout,
		Align:          c.Capture.Align,
		Pace:           c.Capture.Pace,
		DepthUnitRange: capture.Range{Min: c.Capture.DepthUnitsRange.Min, Max: c.Capture.DepthUnitsRange.Max},
		Dir:            c.Capture.Replay.Dir,
		Loop:           c.Capture.Replay.Loop,
		Device:         c.Capture.Device,
	}
}

// EncoderConfig passes the stream geometry and encoder params to the encoder.
func (c *Config) EncoderConfig() encoder.Config {
	return encoder.Config{
		Width:       c.Capture.Width,
		Height:      c.Capture.Height,
		Framerate:   c.Capture.Framerate,
		Device:      c.Encoder.Device,
		Codec:       c.Encoder.Codec,
		PixelFormat: c.Encoder.PixelFormat,
		Profile:     c.Encoder.Profile,
		MaxBFrames:  c.Encoder.MaxBFrames,
		Bitrate:     c.Encoder.Bitrate,
		Backend:     c.Encoder.Backend,
		Binary:      c.Encoder.Binary,
	}
}
