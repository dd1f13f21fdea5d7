// Package session runs the capture -> encode -> write loop.
package session

import (
	"context"
	"errors"

	"github.com/depthstream/depthstream/pkg/capture"
	"github.com/depthstream/depthstream/pkg/encoder"
	"github.com/depthstream/depthstream/pkg/encoder/yuv"
	"github.com/depthstream/depthstream/pkg/logger"
	"github.com/depthstream/depthstream/pkg/monitoring"
)

type PacketWriter interface {
	Write(p encoder.Packet) error
}

type FrameWriter interface {
	Write(frame capture.DepthFrame)
}

type Session struct {
	Source   capture.Source
	Pipeline *encoder.Pipeline
	Sink     PacketWriter
	// Frames is the number of frames to encode.
	Frames int

	// optional
	Chroma  *yuv.Chroma
	Dump    FrameWriter
	Metrics *monitoring.Metrics
	Log     *logger.Logger
}

type Result struct {
	// OK is true when all the frames were encoded and written.
	OK      bool
	Frames  int
	Packets int
	Bytes   int64
	// Err is the first failure.
	Err error
}

// Run encodes the configured number of frames and then flushes the encoder.
// The flush runs once whatever happened in the loop.
func Run(ctx context.Context, s Session) (res Result) {
	log := s.Log
	if log == nil {
		log = logger.Default()
	}
	chroma := s.Chroma
	if chroma == nil {
		chroma = &yuv.Chroma{}
	}
	defer chroma.Release()

	fail := func(kind string, err error) {
		s.Metrics.Failure(kind)
		if res.Err == nil {
			res.Err = err
		}
	}

	write := func(packets []encoder.Packet) bool {
		for _, p := range packets {
			if err := s.Sink.Write(p); err != nil {
				fail(monitoring.FailWrite, err)
				return false
			}
			res.Packets++
			res.Bytes += int64(len(p.Data))
			s.Metrics.Packet(len(p.Data))
			log.Debug().Uint64("seq", p.Seq).Int("size", len(p.Data)).Msg("encoded")
		}
		return true
	}

	for res.Frames < s.Frames {
		if err := ctx.Err(); err != nil {
			fail(monitoring.FailCancel, err)
			log.Info().Msg("session has been cancelled")
			break
		}

		depth, err := s.Source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				fail(monitoring.FailCancel, err)
				log.Info().Msg("session has been cancelled")
			} else {
				fail(monitoring.FailCapture, err)
				log.Error().Err(err).Msg("failed to capture frame")
			}
			break
		}
		s.Metrics.Captured()
		log.Debug().
			Uint64("n", depth.Number).
			Int("w", depth.Width).
			Int("h", depth.Height).
			Int("stride", depth.Stride).
			Int("bytes", depth.Size()).
			Msg("frame")

		if s.Dump != nil {
			s.Dump.Write(depth)
		}

		plane, err := chroma.Ensure(depth.Stride, depth.Height)
		if err != nil {
			fail(monitoring.FailChroma, err)
			log.Error().Err(err).Msg("failed to prepare chroma plane")
			break
		}
		frame := yuv.Bridge(depth, plane)

		if err := s.Pipeline.Submit(&frame); err != nil {
			fail(monitoring.FailSubmit, err)
			log.Error().Err(err).Msg("failed to send frame to hardware")
			break
		}
		res.Frames++
		s.Metrics.Submitted()
		s.Metrics.SetState(int(s.Pipeline.State()))

		packets, err := s.Pipeline.DrainReady()
		if !write(packets) {
			break
		}
		if err != nil {
			fail(monitoring.FailReceive, err)
			log.Error().Err(err).Msg("failed to encode frame")
			break
		}
	}

	packets, err := s.Pipeline.Flush()
	s.Metrics.SetState(int(s.Pipeline.State()))
	if err != nil && !errors.Is(err, encoder.ErrAlreadyFlushed) {
		fail(monitoring.FailFlush, err)
		log.Error().Err(err).Msg("failed to flush the encoder")
	}
	write(packets)

	res.OK = res.Err == nil && res.Frames == s.Frames
	log.Info().
		Bool("ok", res.OK).
		Int("frames", res.Frames).
		Int("packets", res.Packets).
		Int64("bytes", res.Bytes).
		Int("chroma_allocs", chroma.Allocations()).
		Msg("session has ended")
	return
}
