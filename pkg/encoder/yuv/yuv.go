// Package yuv maps Z16 depth frames onto P010LE encoder frames.
//
// P010LE keeps 10-bit samples in the high bits of 16-bit little-endian
// words, so a Z16 depth frame can be passed as the luma plane as is and
// the encoder keeps its 10 most significant bits. The interleaved UV plane
// has half the rows of luma with the same stride and is filled with the
// neutral value, which renders as no color.
package yuv

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/depthstream/depthstream/pkg/capture"
	"github.com/depthstream/depthstream/pkg/encoder"
)

// Neutral is the middle of the 16-bit range (128 << 8).
const Neutral uint16 = 128 << 8

// maxSamples caps the chroma plane size.
const maxSamples = 1 << 30

var (
	ErrAllocation     = errors.New("yuv: chroma plane allocation failed")
	ErrStrideMismatch = errors.New("yuv: chroma plane was made for another stride")
)

// Plane is the synthesized chroma plane.
type Plane struct {
	// Data holds little-endian 16-bit samples.
	Data   []byte
	Stride int
	Height int
}

// Len returns the number of 16-bit samples.
func (p Plane) Len() int { return len(p.Data) / 2 }

// At returns the i-th sample.
func (p Plane) At(i int) uint16 { return binary.LittleEndian.Uint16(p.Data[2*i:]) }

// Chroma owns the chroma plane of a session.
// The plane is made on the first Ensure call once the real
// stride is known and reused for every following frame.
type Chroma struct {
	plane  Plane
	allocs int
}

// Ensure returns the chroma plane for frames of the given stride (bytes) and
// height, making it on the first call.
func (c *Chroma) Ensure(stride, height int) (plane Plane, err error) {
	if c.plane.Data != nil {
		if c.plane.Stride != stride || c.plane.Height != height {
			return Plane{}, fmt.Errorf("%w: have %v/%v, got %v/%v",
				ErrStrideMismatch, c.plane.Stride, c.plane.Height, stride, height)
		}
		return c.plane, nil
	}

	if stride <= 0 || height <= 0 {
		return Plane{}, fmt.Errorf("%w: bad plane geometry %v/%v", ErrAllocation, stride, height)
	}
	n := (stride / 2) * (height / 2)
	if n <= 0 || n > maxSamples {
		return Plane{}, fmt.Errorf("%w: %v samples", ErrAllocation, n)
	}

	defer func() {
		if r := recover(); r != nil {
			plane, err = Plane{}, fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()
	data := make([]byte, 2*n)
	fill(data, Neutral)

	c.plane = Plane{Data: data, Stride: stride, Height: height}
	c.allocs++
	return c.plane, nil
}

func fill(b []byte, v uint16) {
	if len(b) < 2 {
		return
	}
	binary.LittleEndian.PutUint16(b, v)
	for i := 2; i < len(b); i *= 2 {
		copy(b[i:], b[:i])
	}
}

// Allocations tells how many times the plane has been made.
func (c *Chroma) Allocations() int { return c.allocs }

// Plane returns the current plane, empty before the first Ensure.
func (c *Chroma) Plane() Plane { return c.plane }

// Release drops the plane at the end of a session.
func (c *Chroma) Release() { c.plane = Plane{} }

// Bridge presents a depth frame and a chroma plane as a P010LE encoder frame.
// Both planes share the depth frame stride. No data is copied.
func Bridge(depth capture.DepthFrame, chroma Plane) encoder.Frame {
	if chroma.Stride != depth.Stride || chroma.Height != depth.Height {
		panic(fmt.Sprintf("yuv: chroma plane %v/%v doesn't match depth frame %v/%v",
			chroma.Stride, chroma.Height, depth.Stride, depth.Height))
	}
	return encoder.Frame{
		Number: depth.Number,
		Planes: [2]encoder.Plane{
			{Data: depth.Data[:depth.Size()], Linesize: depth.Stride},
			{Data: chroma.Data, Linesize: depth.Stride},
		},
	}
}

// Pack copies the visible part of both planes of f into a contiguous
// P010LE picture, dropping the row padding. dst is reused when it's big enough.
func Pack(dst []byte, f *encoder.Frame, w, h int) []byte {
	row := 2 * w
	size := row*h + row*(h/2)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	i := 0
	luma, chroma := f.Planes[0], f.Planes[1]
	for y := 0; y < h; y++ {
		i += copy(dst[i:i+row], luma.Data[y*luma.Linesize:])
	}
	for y := 0; y < h/2; y++ {
		i += copy(dst[i:i+row], chroma.Data[y*chroma.Linesize:])
	}
	return dst
}
