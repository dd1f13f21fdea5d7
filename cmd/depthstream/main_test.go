package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/depthstream/depthstream/pkg/encoder"
	"github.com/depthstream/depthstream/pkg/encoder/encodertest"
	"github.com/depthstream/depthstream/pkg/logger"
)

func init() {
	encoder.Register("fake", func(encoder.Config, *logger.Logger) (encoder.Service, error) {
		return encodertest.New(2), nil
	})
	encoder.Register("broken", func(encoder.Config, *logger.Logger) (encoder.Service, error) {
		return nil, errors.New("vaInitialize failed")
	})
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "output.hevc")

	tests := []struct {
		name  string
		args  []string
		code  int
		empty bool
	}{
		{
			name: "ok",
			args: []string{"--encoder", "fake", "-o", out, "848", "480", "30", "0.0001", "1"},
			code: exitOK,
		},
		{
			name:  "depth units out of range",
			args:  []string{"--encoder", "fake", "-o", out, "848", "480", "30", "0.5", "1"},
			code:  exitCapture,
			empty: true,
		},
		{
			name:  "encoder init",
			args:  []string{"--encoder", "broken", "-o", out, "848", "480", "30", "0.0001", "1"},
			code:  exitEncoder,
			empty: true,
		},
		{
			name:  "unknown source",
			args:  []string{"--encoder", "fake", "--source", "kinect", "-o", out, "848", "480", "30", "0.0001", "1"},
			code:  exitCapture,
			empty: true,
		},
		{
			name: "bad args",
			args: []string{"848", "480", "30"},
			code: exitUsage,
		},
		{
			name: "help",
			args: []string{"--help"},
			code: exitOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = os.Remove(out)
			if code := run(tt.args, io.Discard); code != tt.code {
				t.Fatalf("exit code %v, want %v", code, tt.code)
			}
			if tt.code == exitOK && tt.name == "ok" {
				fi, err := os.Stat(out)
				if err != nil || fi.Size() == 0 {
					t.Errorf("output should not be empty: %v", err)
				}
			}
			if tt.empty {
				fi, err := os.Stat(out)
				if err != nil || fi.Size() != 0 {
					t.Errorf("output should be empty: %v", err)
				}
			}
		})
	}
}

func TestRunOutputFailure(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	code := run([]string{"--encoder", "fake", "-o", filepath.Join(file, "output.hevc"), "848", "480", "30", "0.0001", "1"}, io.Discard)
	if code != exitOutput {
		t.Errorf("exit code %v, want %v", code, exitOutput)
	}
}

func TestRunEncoderExits(t *testing.T) {
	t.Setenv("DEPTHSTREAM_ENCODER_BINARY", "false")
	out := filepath.Join(t.TempDir(), "output.hevc")

	if code := run([]string{"-o", out, "848", "480", "30", "0.0001", "1"}, io.Discard); code != exitEncoder {
		t.Fatalf("exit code %v, want %v", code, exitEncoder)
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() != 0 {
		t.Errorf("output should be empty: %v", err)
	}
}
