package ffmpeg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/depthstream/depthstream/pkg/encoder"
	"github.com/depthstream/depthstream/pkg/encoder/yuv"
	"github.com/depthstream/depthstream/pkg/logger"
)

const helperEnv = "DEPTHSTREAM_FAKE_FFMPEG"

// TestMain lets the test binary act as ffmpeg when started by the tests.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "cat":
		if _, err := io.Copy(os.Stdout, os.Stdin); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	case "fail":
		_, _ = fmt.Fprint(os.Stderr, "Device creation failed: -22")
		os.Exit(1)
	}
}

func fake(t *testing.T, mode string) encoder.Config {
	t.Helper()
	t.Setenv(helperEnv, mode)
	return encoder.Config{
		Width:     64,
		Height:    32,
		Framerate: 30,
		Codec:     "hevc_vaapi",
		Backend:   "ffmpeg",
		Binary:    os.Args[0],
	}
}

func testFrame(n uint64, w, h, linesize int) *encoder.Frame {
	luma := bytes.Repeat([]byte{0xff}, linesize*h)
	chroma := bytes.Repeat([]byte{0xff}, linesize*h/2)
	for y := 0; y < h; y++ {
		for x := 0; x < 2*w; x++ {
			luma[y*linesize+x] = byte(int(n) + x + y)
		}
	}
	for y := 0; y < h/2; y++ {
		for x := 0; x < 2*w; x++ {
			chroma[y*linesize+x] = 0x80
		}
	}
	return &encoder.Frame{
		Planes: [2]encoder.Plane{{Data: luma, Linesize: linesize}, {Data: chroma, Linesize: linesize}},
		Number: n,
	}
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name string
		conf encoder.Config
		has  []string
		not  []string
	}{
		{
			name: "vaapi",
			conf: encoder.Config{Width: 848, Height: 480, Framerate: 30, Codec: "hevc_vaapi", PixelFormat: "p010le", Profile: "main10", MaxBFrames: 2},
			has: []string{
				"-vaapi_device " + DefaultDevice,
				"-f rawvideo -pix_fmt p010le -s:v 848x480 -r 30 -i pipe:0",
				"-vf format=p010,hwupload",
				"-c:v hevc_vaapi -profile:v main10 -bf 2",
				"-f hevc pipe:1",
			},
			not: []string{"-b:v"},
		},
		{
			name: "device and bitrate",
			conf: encoder.Config{Width: 640, Height: 480, Framerate: 15, Device: "/dev/dri/renderD129", Codec: "h264_vaapi", Bitrate: 2000000},
			has:  []string{"-vaapi_device /dev/dri/renderD129", "-bf 0 -b:v 2000000", "-f h264 pipe:1"},
		},
		{
			name: "software",
			conf: encoder.Config{Width: 640, Height: 480, Framerate: 15, Codec: "libx265"},
			has:  []string{"-c:v libx265", "-f hevc pipe:1"},
			not:  []string{"-vaapi_device", "hwupload"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := strings.Join(Args(tt.conf), " ")
			for _, s := range tt.has {
				if !strings.Contains(cmd, s) {
					t.Errorf("%q is missing in %q", s, cmd)
				}
			}
			for _, s := range tt.not {
				if strings.Contains(cmd, s) {
					t.Errorf("%q is not expected in %q", s, cmd)
				}
			}
		})
	}
}

func TestEncoder(t *testing.T) {
	conf := fake(t, "cat")
	svc, err := encoder.New(conf, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = svc.Close() }()

	p := encoder.NewPipeline(svc, logger.Nop())
	var want, got []byte
	for i := 1; i <= 5; i++ {
		f := testFrame(uint64(i), conf.Width, conf.Height, 192)
		want = append(want, yuv.Pack(nil, f, conf.Width, conf.Height)...)
		if err := p.Submit(f); err != nil {
			t.Fatal(err)
		}
		packets, err := p.DrainReady()
		if err != nil {
			t.Fatal(err)
		}
		for _, pk := range packets {
			got = append(got, pk.Data...)
		}
	}
	packets, err := p.Flush()
	if err != nil {
		t.Fatal(err)
	}
	for _, pk := range packets {
		got = append(got, pk.Data...)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("stream mismatch, got %v bytes, want %v", len(got), len(want))
	}
	if p.Packets() == 0 {
		t.Errorf("no packets")
	}
	if p.State() != encoder.Drained {
		t.Errorf("state %v", p.State())
	}
}

func TestEncoderFailure(t *testing.T) {
	conf := fake(t, "fail")
	svc, err := encoder.New(conf, logger.Nop())
	if err == nil {
		_ = svc.Close()
		t.Fatalf("the encoder should fail to start")
	}
	if !errors.Is(err, encoder.ErrInit) {
		t.Errorf("expected ErrInit, got %v", err)
	}
	if !strings.Contains(err.Error(), "Device creation failed") {
		t.Errorf("stderr is missing in %q", err)
	}
}

func TestPreflightArgs(t *testing.T) {
	conf := encoder.Config{Width: 848, Height: 480, Framerate: 30, Codec: "hevc_vaapi", Profile: "main10", MaxBFrames: 2}
	cmd := strings.Join(PreflightArgs(conf), " ")
	for _, s := range []string{
		"-vaapi_device " + DefaultDevice,
		"-f lavfi -i nullsrc=s=848x480:r=30,format=p010le",
		"-vf format=p010,hwupload -c:v hevc_vaapi -profile:v main10 -bf 2",
		"-frames:v 1 -f null -",
	} {
		if !strings.Contains(cmd, s) {
			t.Errorf("%q is missing in %q", s, cmd)
		}
	}
	if strings.Contains(cmd, "pipe:") {
		t.Errorf("preflight should not use pipes: %q", cmd)
	}
}

func TestEncoderNoBinary(t *testing.T) {
	conf := fake(t, "cat")
	conf.Binary = "/nonexistent/ffmpeg"
	if _, err := encoder.New(conf, logger.Nop()); !errors.Is(err, encoder.ErrInit) {
		t.Errorf("expected ErrInit, got %v", err)
	}
}

func TestTail(t *testing.T) {
	tl := &tail{max: 4}
	_, _ = tl.Write([]byte("abc"))
	_, _ = tl.Write([]byte("defg"))
	if tl.String() != "defg" {
		t.Errorf("tail %q", tl.String())
	}
}
