package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const rawFile = "f%07d__%dx%d__%d.raw"

// RawFileName names a dumped frame so that its geometry can be recovered.
func RawFileName(n uint64, w, h, stride int) string { return fmt.Sprintf(rawFile, n, w, h, stride) }

// ParseRawFileName extracts the frame geometry from a dumped frame name.
func ParseRawFileName(name string) (w, h, stride int, err error) {
	s1 := strings.Split(filepath.Base(name), "__")
	if len(s1) != 3 {
		return 0, 0, 0, fmt.Errorf("not a raw frame name: %v", name)
	}
	s12 := strings.Split(s1[1], "x")
	if len(s12) != 2 {
		return 0, 0, 0, fmt.Errorf("no frame size in %v", name)
	}
	if w, err = strconv.Atoi(s12[0]); err != nil {
		return
	}
	if h, err = strconv.Atoi(s12[1]); err != nil {
		return
	}
	stride, err = strconv.Atoi(strings.TrimSuffix(s1[2], filepath.Ext(s1[2])))
	return
}

// Replay reads frames previously dumped into a directory.
type Replay struct {
	depthUnits

	files []string
	i     int
	loop  bool
	w, h  int
	n     uint64
	buf   []byte
}

func init() {
	Register("replay", func(opts Options) (Device, error) { return NewReplay(opts) })
}

func NewReplay(opts Options) (*Replay, error) {
	files, err := filepath.Glob(filepath.Join(opts.Dir, "f*__*x*__*.raw"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no raw frames in [%v]", ErrDevice, opts.Dir)
	}
	sort.Strings(files)
	return &Replay{
		depthUnits: depthUnits{rng: opts.DepthUnitRange, units: 0.001},
		files:      files,
		loop:       opts.Loop,
		w:          opts.Width,
		h:          opts.Height,
	}, nil
}

func (r *Replay) NextFrame(ctx context.Context) (DepthFrame, error) {
	f, err := r.next(ctx)
	return f, WrapError("replay", r.n, err)
}

func (r *Replay) next(ctx context.Context) (DepthFrame, error) {
	if err := ctx.Err(); err != nil {
		return DepthFrame{}, err
	}
	if r.i == len(r.files) {
		if !r.loop {
			return DepthFrame{}, fmt.Errorf("%w: end of recording", ErrDevice)
		}
		r.i = 0
	}
	name := r.files[r.i]
	r.i++

	w, h, stride, err := ParseRawFileName(name)
	if err != nil {
		return DepthFrame{}, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	if w != r.w || h != r.h {
		return DepthFrame{}, fmt.Errorf("%w: %v has %vx%v frame, want %vx%v", ErrDevice, name, w, h, r.w, r.h)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return DepthFrame{}, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	if len(data) < stride*h || stride < 2*w {
		return DepthFrame{}, fmt.Errorf("%w: %v is truncated", ErrDevice, name)
	}
	r.buf = data
	r.n++
	return DepthFrame{Width: w, Height: h, Stride: stride, Number: r.n, Data: r.buf}, nil
}

func (r *Replay) Close() error { return nil }
