package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStride(t *testing.T) {
	tests := []struct {
		w, align, want int
	}{
		{w: 848, align: 0, want: 1696},
		{w: 848, align: 1, want: 1696},
		{w: 848, align: 64, want: 1728},
		{w: 640, align: 64, want: 1280},
		{w: 5, align: 4, want: 12},
	}
	for _, tt := range tests {
		if got := Stride(tt.w, tt.align); got != tt.want {
			t.Errorf("Stride(%v, %v) = %v, want %v", tt.w, tt.align, got, tt.want)
		}
	}
}

func TestDepthUnits(t *testing.T) {
	dev, err := Open("synthetic", Options{Config: Config{Width: 16, Height: 8, Framerate: 30}})
	if err != nil {
		t.Fatal(err)
	}

	if err := dev.SetDepthUnits(0.0001); err != nil {
		t.Errorf("0.0001 should be accepted, %v", err)
	}

	err = dev.SetDepthUnits(0.5)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if ce.Range != DefaultDepthUnitsRange || ce.Value != 0.5 {
		t.Errorf("unexpected error contents %+v", ce)
	}
}

func TestOpenUnknown(t *testing.T) {
	if _, err := Open("nope", Options{Config: Config{Width: 1, Height: 1, Framerate: 1}}); !errors.Is(err, ErrDevice) {
		t.Errorf("expected ErrDevice, got %v", err)
	}
	if _, err := Open("synthetic", Options{}); !errors.Is(err, ErrDevice) {
		t.Errorf("expected ErrDevice for zero geometry, got %v", err)
	}
}

func TestSyntheticFrames(t *testing.T) {
	dev, err := Open("synthetic", Options{Config: Config{Width: 848, Height: 480, Framerate: 30}, Align: 64})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = dev.Close() }()

	for i := 1; i <= 3; i++ {
		f, err := dev.NextFrame(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if f.Number != uint64(i) {
			t.Errorf("frame number %v, want %v", f.Number, i)
		}
		if f.Width != 848 || f.Height != 480 || f.Stride != 1728 {
			t.Errorf("unexpected geometry %vx%v/%v", f.Width, f.Height, f.Stride)
		}
		if len(f.Data) < f.Size() {
			t.Errorf("buffer is %v bytes, want at least %v", len(f.Data), f.Size())
		}
		// 1m at the left edge, 1mm units
		if v := f.At(0, 0); v != 1000 {
			t.Errorf("sample at 0,0 = %v, want 1000", v)
		}
	}
}

func TestSyntheticCancel(t *testing.T) {
	dev := NewSynthetic(Options{Config: Config{Width: 4, Height: 4, Framerate: 1}, Pace: true})
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := dev.NextFrame(ctx); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := dev.NextFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRawFileName(t *testing.T) {
	name := RawFileName(12, 848, 480, 1728)
	if name != "f0000012__848x480__1728.raw" {
		t.Errorf("unexpected name %v", name)
	}
	w, h, st, err := ParseRawFileName(filepath.Join("a", name))
	if err != nil {
		t.Fatal(err)
	}
	if w != 848 || h != 480 || st != 1728 {
		t.Errorf("parsed %v %v %v", w, h, st)
	}
	if _, _, _, err := ParseRawFileName("garbage.raw"); err == nil {
		t.Errorf("expected an error for a bad name")
	}
}

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	w, h, stride := 4, 2, 8
	for i := 1; i <= 2; i++ {
		data := make([]byte, stride*h)
		data[0] = byte(i)
		if err := os.WriteFile(filepath.Join(dir, RawFileName(uint64(i), w, h, stride)), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	dev, err := Open("replay", Options{Config: Config{Width: w, Height: h, Framerate: 30}, Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		f, err := dev.NextFrame(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if f.At(0, 0) != uint16(i) || f.Stride != stride {
			t.Errorf("frame %v: sample %v stride %v", i, f.At(0, 0), f.Stride)
		}
	}
	_, err = dev.NextFrame(context.Background())
	if !errors.Is(err, ErrDevice) {
		t.Errorf("expected ErrDevice at the end of recording, got %v", err)
	}
	var ce *Error
	if !errors.As(err, &ce) || ce.Source != "replay" || ce.Frame != 2 {
		t.Errorf("expected a replay capture error after frame 2, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dev.NextFrame(ctx); !errors.Is(err, context.Canceled) || errors.As(err, &ce) {
		t.Errorf("cancellation should not be a capture error, got %v", err)
	}

	loop, err := NewReplay(Options{Config: Config{Width: w, Height: h}, Dir: dir, Loop: true})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := loop.NextFrame(context.Background()); err != nil {
			t.Fatalf("looped replay failed at %v, %v", i, err)
		}
	}

	if _, err := NewReplay(Options{Dir: t.TempDir()}); !errors.Is(err, ErrDevice) {
		t.Errorf("expected ErrDevice for an empty dir, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	r, p := Describe(0.001)
	if r < 65.5 || r > 65.6 {
		t.Errorf("range %v", r)
	}
	if p < 0.0639 || p > 0.0641 {
		t.Errorf("precision %v", p)
	}
}
