package capture

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// Synthetic generates a depth scene without hardware: a tilted wall
// with a ball sweeping across it.
type Synthetic struct {
	depthUnits

	w, h, stride int
	fps          int
	pace         bool
	n            uint64
	buf          []byte
	next         time.Time
}

func init() {
	Register("synthetic", func(opts Options) (Device, error) { return NewSynthetic(opts), nil })
}

func NewSynthetic(opts Options) *Synthetic {
	stride := Stride(opts.Width, opts.Align)
	return &Synthetic{
		depthUnits: depthUnits{rng: opts.DepthUnitRange, units: 0.001},
		w:          opts.Width,
		h:          opts.Height,
		stride:     stride,
		fps:        opts.Framerate,
		pace:       opts.Pace,
		buf:        make([]byte, stride*opts.Height),
	}
}

func (s *Synthetic) NextFrame(ctx context.Context) (DepthFrame, error) {
	if s.pace && s.fps > 0 {
		now := time.Now()
		if s.next.IsZero() {
			s.next = now
		}
		if wait := s.next.Sub(now); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return DepthFrame{}, ctx.Err()
			case <-t.C:
			}
		}
		s.next = s.next.Add(time.Second / time.Duration(s.fps))
	} else if err := ctx.Err(); err != nil {
		return DepthFrame{}, err
	}

	s.render()
	s.n++
	return DepthFrame{Width: s.w, Height: s.h, Stride: s.stride, Number: s.n, Data: s.buf}, nil
}

func (s *Synthetic) render() {
	units := float64(s.units)
	cx := float64(int(s.n*4) % s.w)
	cy := float64(s.h) / 2
	r := float64(s.h) / 6
	for y := 0; y < s.h; y++ {
		row := s.buf[y*s.stride : y*s.stride+2*s.w]
		for x := 0; x < s.w; x++ {
			// meters
			d := 1.0 + 2.0*float64(x)/float64(s.w)
			if dx, dy := float64(x)-cx, float64(y)-cy; dx*dx+dy*dy < r*r {
				d = 0.6
			}
			v := math.Round(d / units)
			if v > math.MaxUint16 {
				v = 0
			}
			binary.LittleEndian.PutUint16(row[2*x:], uint16(v))
		}
	}
}

func (s *Synthetic) Close() error { return nil }
