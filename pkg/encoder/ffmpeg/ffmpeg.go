// Package ffmpeg is an encoder.Service running an ffmpeg process.
//
// Raw P010LE frames go into the process stdin and the elementary stream is
// read back from its stdout. Everything read becomes a packet in the order
// it was produced.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/depthstream/depthstream/pkg/encoder"
	"github.com/depthstream/depthstream/pkg/encoder/yuv"
	"github.com/depthstream/depthstream/pkg/logger"
)

const (
	DefaultDevice = "/dev/dri/renderD128"
	readSize      = 64 * 1024
	closeTimeout  = 5 * time.Second

	preflightTimeout = 10 * time.Second
)

type Encoder struct {
	conf  encoder.Config
	cmd   *exec.Cmd
	stdin io.WriteCloser
	log   *logger.Logger
	buf   []byte

	mu       sync.Mutex
	queue    [][]byte
	notify   chan struct{}
	done     chan struct{}
	err      error
	stderr   *tail
	flushing bool
	closed   bool
}

func init() {
	encoder.Register("ffmpeg", func(conf encoder.Config, log *logger.Logger) (encoder.Service, error) {
		return NewEncoder(conf, log)
	})
}

// Args returns the ffmpeg command line for the config.
func Args(conf encoder.Config) []string {
	input := []string{
		"-f", "rawvideo",
		"-pix_fmt", pixFmt(conf),
		"-s:v", fmt.Sprintf("%dx%d", conf.Width, conf.Height),
		"-r", strconv.Itoa(conf.Framerate),
		"-i", "pipe:0",
	}
	return args(conf, input, []string{"-f", Format(codec(conf)), "pipe:1"})
}

// PreflightArgs returns a command line encoding one generated frame with
// the same device and codec settings, to find out if the encoder works.
func PreflightArgs(conf encoder.Config) []string {
	input := []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("nullsrc=s=%dx%d:r=%d,format=%s", conf.Width, conf.Height, conf.Framerate, pixFmt(conf)),
	}
	return args(conf, input, []string{"-frames:v", "1", "-f", "null", "-"})
}

func pixFmt(conf encoder.Config) string {
	if conf.PixelFormat == "" {
		return "p010le"
	}
	return conf.PixelFormat
}

func codec(conf encoder.Config) string {
	if conf.Codec == "" {
		return "h264_vaapi"
	}
	return conf.Codec
}

func args(conf encoder.Config, input, output []string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	if conf.IsVaapi() {
		dev := conf.Device
		if dev == "" {
			dev = DefaultDevice
		}
		args = append(args, "-vaapi_device", dev)
	}
	args = append(args, input...)
	if conf.IsVaapi() {
		args = append(args, "-vf", "format="+strings.TrimSuffix(pixFmt(conf), "le")+",hwupload")
	}
	args = append(args, "-c:v", codec(conf))
	if conf.Profile != "" {
		args = append(args, "-profile:v", conf.Profile)
	}
	args = append(args, "-bf", strconv.Itoa(conf.MaxBFrames))
	if conf.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(conf.Bitrate))
	}
	return append(args, output...)
}

// Format returns the raw muxer for the codec bitstream.
func Format(codec string) string {
	switch {
	case strings.Contains(codec, "hevc"), strings.Contains(codec, "265"):
		return "hevc"
	case strings.Contains(codec, "h264"), strings.Contains(codec, "264"):
		return "h264"
	case strings.Contains(codec, "vp8"), strings.Contains(codec, "vp9"), strings.Contains(codec, "av1"):
		return "ivf"
	}
	return "rawvideo"
}

func NewEncoder(conf encoder.Config, log *logger.Logger) (*Encoder, error) {
	bin := conf.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, err
	}
	if err := preflight(path, conf, log); err != nil {
		return nil, err
	}

	args := Args(conf)
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	e := &Encoder{
		conf:   conf,
		cmd:    cmd,
		stdin:  stdin,
		log:    log.Tag("ffmpeg"),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		stderr: &tail{max: 4096},
	}
	cmd.Stderr = e.stderr

	e.log.Debug().Msgf("%v %v", path, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go e.read(stdout)
	return e, nil
}

// preflight encodes a single frame so that device, codec and profile
// problems show up before the stream starts.
func preflight(path string, conf encoder.Config, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), preflightTimeout)
	defer cancel()

	args := PreflightArgs(conf)
	log.Debug().Msgf("preflight: %v %v", path, strings.Join(args, " "))
	stderr := &tail{max: 4096}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%v can't encode with %v: %v: %v", path, codec(conf), err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// read turns the process output into packets until it exits.
// The queue is unbounded so the process never stalls on its stdout
// while the caller is blocked in Send.
func (e *Encoder) read(r io.Reader) {
	for {
		b := make([]byte, readSize)
		n, err := r.Read(b)
		if n > 0 {
			e.mu.Lock()
			e.queue = append(e.queue, b[:n])
			e.mu.Unlock()
			select {
			case e.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			if err != io.EOF {
				e.setErr(err)
			}
			break
		}
	}
	if err := e.cmd.Wait(); err != nil {
		e.setErr(fmt.Errorf("%v: %v", err, strings.TrimSpace(e.stderr.String())))
	}
	close(e.done)
}

func (e *Encoder) setErr(err error) {
	e.mu.Lock()
	if e.err == nil && !e.closed {
		e.err = err
	}
	e.mu.Unlock()
}

// Send writes the frame into the process, nil closes the input.
func (e *Encoder) Send(frame *encoder.Frame) error {
	if frame == nil {
		e.mu.Lock()
		e.flushing = true
		e.mu.Unlock()
		return e.stdin.Close()
	}
	e.buf = yuv.Pack(e.buf, frame, e.conf.Width, e.conf.Height)
	if _, err := e.stdin.Write(e.buf); err != nil {
		if perr := e.failure(); perr != nil {
			return perr
		}
		return err
	}
	return nil
}

func (e *Encoder) failure() error {
	select {
	case <-e.done:
	case <-time.After(closeTimeout):
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Receive returns the next chunk of the bitstream.
// It doesn't wait while streaming and waits for the process
// output (or exit) when flushing.
func (e *Encoder) Receive() (*encoder.Packet, error) {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			b := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()
			return &encoder.Packet{Data: b}, nil
		}
		err, flushing := e.err, e.flushing
		e.mu.Unlock()

		if err != nil {
			return nil, err
		}
		select {
		case <-e.done:
			e.mu.Lock()
			empty, err := len(e.queue) == 0, e.err
			e.mu.Unlock()
			if !empty {
				continue
			}
			if err != nil {
				return nil, err
			}
			if flushing {
				return nil, encoder.ErrEOF
			}
			return nil, errors.New("ffmpeg has exited")
		default:
		}
		if !flushing {
			return nil, nil
		}
		select {
		case <-e.notify:
		case <-e.done:
		}
	}
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	_ = e.stdin.Close()
	select {
	case <-e.done:
	case <-time.After(closeTimeout):
		e.log.Warn().Msg("ffmpeg didn't stop, killing it")
		_ = e.cmd.Process.Kill()
		<-e.done
	}
	return nil
}

// tail keeps the last max bytes written.
type tail struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
