//go:build gst

// Package gst reads Z16 depth frames from a V4L2 camera node through GStreamer.
package gst

import (
	"context"
	"fmt"
	"time"

	"github.com/depthstream/depthstream/pkg/capture"
	"github.com/depthstream/depthstream/pkg/logger"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"github.com/tinyzimmer/go-gst/gst/video"
)

const (
	DefaultDevice  = "/dev/video2"
	defaultTimeout = 5 * time.Second
	// poll bounds a single blocking pull so that cancellation is noticed
	poll = 100 * time.Millisecond
)

type Source struct {
	capture.Sensor

	pipeline *gst.Pipeline
	sink     *app.Sink
	w, h     int
	timeout  time.Duration
	n        uint64
	buf      []byte
	log      *logger.Logger
}

func init() {
	capture.Register("gst", func(opts capture.Options) (capture.Device, error) { return New(opts) })
}

// Pipeline returns the GStreamer pipeline description for the options.
func Pipeline(opts capture.Options) string {
	dev := opts.Device
	if dev == "" {
		dev = DefaultDevice
	}
	return fmt.Sprintf(
		"v4l2src device=%s ! video/x-raw,format=GRAY16_LE,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink sync=false max-buffers=2 drop=false",
		dev, opts.Width, opts.Height, opts.Framerate)
}

func New(opts capture.Options) (*Source, error) {
	gst.Init(nil)

	desc := Pipeline(opts)
	opts.Log.Debug().Msgf("gst pipeline: %v", desc)
	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDevice, err)
	}
	el, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDevice, err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrDevice, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Source{
		Sensor:   capture.NewSensor(opts.DepthUnitRange, 0.001),
		pipeline: pipeline,
		sink:     app.SinkFromElement(el),
		w:        opts.Width,
		h:        opts.Height,
		timeout:  timeout,
		log:      opts.Log,
	}, nil
}

func (s *Source) NextFrame(ctx context.Context) (capture.DepthFrame, error) {
	f, err := s.next(ctx)
	return f, capture.WrapError("gst", s.n, err)
}

func (s *Source) next(ctx context.Context) (capture.DepthFrame, error) {
	deadline := time.Now().Add(s.timeout)
	for {
		if err := ctx.Err(); err != nil {
			return capture.DepthFrame{}, err
		}
		if s.sink.IsEOS() {
			return capture.DepthFrame{}, fmt.Errorf("%w: end of stream", capture.ErrDevice)
		}
		if sample := s.sink.TryPullSample(poll); sample != nil {
			return s.frame(sample)
		}
		if time.Now().After(deadline) {
			return capture.DepthFrame{}, capture.ErrCaptureTimeout
		}
	}
}

func (s *Source) frame(sample *gst.Sample) (capture.DepthFrame, error) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return capture.DepthFrame{}, fmt.Errorf("%w: empty sample", capture.ErrDevice)
	}
	var strides []int
	if caps := sample.GetCaps(); caps != nil {
		if vi := video.InfoFromCaps(caps); vi != nil {
			strides = vi.Stride()
		}
	}
	info := buffer.Map(gst.MapRead)
	data := info.Bytes()
	stride, err := rowStride(strides, len(data), s.w, s.h)
	if err != nil {
		buffer.Unmap()
		return capture.DepthFrame{}, err
	}
	// GStreamer reuses its buffers
	if cap(s.buf) < len(data) {
		s.buf = make([]byte, len(data))
	}
	s.buf = s.buf[:len(data)]
	copy(s.buf, data)
	buffer.Unmap()

	s.n++
	return capture.DepthFrame{Width: s.w, Height: s.h, Stride: stride, Number: s.n, Data: s.buf}, nil
}

// rowStride picks the luma row stride negotiated in the caps and falls
// back to a tightly packed buffer when the caps don't carry one.
func rowStride(strides []int, size, w, h int) (int, error) {
	stride := 2 * w
	if len(strides) > 0 && strides[0] > 0 {
		stride = strides[0]
	}
	if stride < 2*w || size < stride*h {
		return 0, fmt.Errorf("%w: got %v bytes for %vx%v frame with %v stride", capture.ErrDevice, size, w, h, stride)
	}
	return stride, nil
}

func (s *Source) Close() error {
	return s.pipeline.SetState(gst.StateNull)
}
