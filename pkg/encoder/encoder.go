package encoder

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/depthstream/depthstream/pkg/logger"
)

type (
	// Plane is a borrowed view of one picture plane.
	Plane struct {
		Data     []byte
		Linesize int
	}
	// Frame is a two-plane (luma, interleaved chroma) picture.
	// Services must only read it during Send and never keep it.
	Frame struct {
		Planes [2]Plane
		Number uint64
	}
	// Packet is a piece of the compressed bitstream.
	Packet struct {
		Data []byte
		Seq  uint64
	}
)

// Service is the boundary of an encoder session with send/receive semantics.
type Service interface {
	// Send submits a frame, nil means no more frames.
	Send(frame *Frame) error
	// Receive returns the next ready packet or nil when none is ready.
	// After the nil frame has been sent, it blocks until a packet is
	// ready and returns nil (or ErrEOF) only when the encoder is empty.
	Receive() (*Packet, error)
	Close() error
}

var (
	ErrInit = errors.New("encoder: init failed")
	// ErrEOF can be returned by Receive when the encoder is fully drained.
	ErrEOF            = errors.New("encoder: end of stream")
	ErrFlushed        = errors.New("encoder: the stream has been flushed")
	ErrAlreadyFlushed = errors.New("encoder: flush can only run once")
)

// SubmitError means the encoder did not accept a frame.
type SubmitError struct {
	Frame uint64
	Flush bool
	Err   error
}

func (e *SubmitError) Error() string {
	if e.Flush {
		return fmt.Sprintf("failed to send flush to the encoder: %v", e.Err)
	}
	return fmt.Sprintf("failed to send frame %v to the encoder: %v", e.Frame, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// ReceiveError means the encoder failed to produce a packet.
type ReceiveError struct {
	Err error
}

func (e *ReceiveError) Error() string { return fmt.Sprintf("failed to encode frame: %v", e.Err) }
func (e *ReceiveError) Unwrap() error { return e.Err }

// Config is the encoder session configuration, passed through to the backend.
type Config struct {
	Width     int
	Height    int
	Framerate int
	// Device is a hardware device path, empty for the default one.
	Device string
	// Codec is an FFmpeg encoder name, e.g. hevc_vaapi.
	Codec string
	// PixelFormat is an FFmpeg pixel format name, e.g. p010le.
	PixelFormat string
	// Profile is an FFmpeg profile name, e.g. main10.
	Profile    string
	MaxBFrames int
	// Bitrate is an average VBR bitrate in bits/s, 0 for the encoder default.
	Bitrate int
	// Backend selects the Service implementation.
	Backend string
	// Binary is the ffmpeg executable for the ffmpeg backend.
	Binary string
}

// IsVaapi tells whether the codec is a VAAPI hardware encoder.
func (c Config) IsVaapi() bool { return strings.HasSuffix(c.Codec, "_vaapi") }

type Factory func(conf Config, log *logger.Logger) (Service, error)

var (
	mu       sync.RWMutex
	backends = map[string]Factory{}
)

// Register makes an encoder backend available by name.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := backends[name]; dup {
		panic("encoder: Register called twice for backend " + name)
	}
	backends[name] = f
}

func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New starts an encoder session with the configured backend.
// All failures are reported as ErrInit.
func New(conf Config, log *logger.Logger) (Service, error) {
	mu.RLock()
	f, ok := backends[conf.Backend]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q, have %v", ErrInit, conf.Backend, Backends())
	}
	if conf.Width <= 0 || conf.Height <= 0 || conf.Framerate <= 0 {
		return nil, fmt.Errorf("%w: bad geometry %vx%v@%v", ErrInit, conf.Width, conf.Height, conf.Framerate)
	}
	// 4:2:0 chroma needs whole 2x2 blocks
	if conf.Width%2 != 0 || conf.Height%2 != 0 {
		return nil, fmt.Errorf("%w: %vx%v frame size should be even", ErrInit, conf.Width, conf.Height)
	}
	if log == nil {
		log = logger.Default()
	}
	s, err := f(conf, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}
	return s, nil
}
