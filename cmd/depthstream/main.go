package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/depthstream/depthstream/pkg/capture"
	"github.com/depthstream/depthstream/pkg/config"
	"github.com/depthstream/depthstream/pkg/encoder"
	_ "github.com/depthstream/depthstream/pkg/encoder/ffmpeg"
	"github.com/depthstream/depthstream/pkg/encoder/yuv"
	"github.com/depthstream/depthstream/pkg/logger"
	"github.com/depthstream/depthstream/pkg/monitoring"
	oss "github.com/depthstream/depthstream/pkg/os"
	"github.com/depthstream/depthstream/pkg/recorder"
	"github.com/depthstream/depthstream/pkg/session"
	"github.com/gofrs/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

var Version = "?"

// exit codes
const (
	exitOK = iota
	exitUsage
	exitOutput
	exitEncoder
	exitCapture
	exitSession
)

func main() { os.Exit(run(os.Args[1:], os.Stdout)) }

func run(args []string, out io.Writer) int {
	conf, err := config.Parse(args, out)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		_, _ = fmt.Fprintln(out, err)
		return exitUsage
	}

	var log *logger.Logger
	if conf.Log.Json {
		log = logger.New(conf.Log.Debug)
	} else {
		log = logger.NewConsoleTo(out, conf.Log.Debug, "depthstream", conf.Log.NoColor)
	}
	if sid, err := uuid.NewV4(); err == nil {
		log = log.Extend(log.With().Str("sid", sid.String()))
	}
	log.Info().Msgf("version: %v", Version)
	log.Debug().Msgf("config: %+v", conf)

	sink, err := recorder.OpenFile(conf.Output.Path)
	if err != nil {
		log.Error().Err(err).Msgf("failed to open output file %v", conf.Output.Path)
		return exitOutput
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close output file")
		}
	}()

	opts := conf.CaptureOptions()
	opts.Log = log.Tag("capture")
	dev, err := capture.Open(conf.Capture.Source, opts)
	if err != nil {
		log.Error().Err(err).Msgf("failed to open %v source", conf.Capture.Source)
		return exitCapture
	}
	defer func() { _ = dev.Close() }()

	units := conf.Capture.DepthUnits
	if err := dev.SetDepthUnits(units); err != nil {
		var ce *capture.ConfigError
		if errors.As(err, &ce) {
			log.Error().Msgf("failed to set depth units to %v (range is %v-%v)", units, ce.Range.Min, ce.Range.Max)
		} else {
			log.Error().Err(err).Msg("failed to set depth units")
		}
		return exitCapture
	}
	rangeM, precisionM := capture.Describe(units)
	log.Info().Msgf("Setting depth units to %v, range %.2f m, precision %.4f m", units, rangeM, precisionM)

	svc, err := encoder.New(conf.EncoderConfig(), log.Tag("encoder"))
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize hardware encoder")
		return exitEncoder
	}
	pipeline := encoder.NewPipeline(svc, log.Tag("encoder"))
	defer func() { _ = pipeline.Close() }()

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	if conf.Monitoring.IsEnabled() {
		mon := monitoring.New(conf.Monitoring, reg, log.Tag("monitoring"))
		if err := mon.Run(); err != nil {
			log.Warn().Err(err).Msg("monitoring is disabled")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = mon.Shutdown(ctx)
			}()
		}
	}

	s := session.Session{
		Source:   dev,
		Pipeline: pipeline,
		Sink:     sink,
		Frames:   conf.CaptureConfig().Frames(),
		Chroma:   &yuv.Chroma{},
		Metrics:  metrics,
		Log:      log,
	}
	if conf.Recording.Dir != "" {
		dump, err := recorder.NewFrameDump(conf.Recording.Dir, log)
		if err != nil {
			log.Warn().Err(err).Msg("raw frame recording is disabled")
		} else {
			s.Dump = dump
			defer func() { _ = dump.Close() }()
		}
	}

	ctx, cancel := oss.ExpectTermination(context.Background())
	defer cancel()

	res := session.Run(ctx, s)
	if !res.OK {
		log.Error().Err(res.Err).Msgf("failed after %v of %v frames", res.Frames, s.Frames)
		return exitSession
	}
	log.Info().Msgf("%v frames written into %v", res.Frames, sink.Path())
	return exitOK
}
