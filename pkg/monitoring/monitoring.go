package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/depthstream/depthstream/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool `fig:"metric_enabled"`
	ProfilingEnabled bool `fig:"profiling_enabled"`
}

func (c *Config) IsEnabled() bool { return c.Port > 0 && (c.MetricEnabled || c.ProfilingEnabled) }

type Monitoring struct {
	conf   Config
	server *http.Server
	log    *logger.Logger
	addr   string
}

// New creates new monitoring service exposing the metrics of reg.
func New(conf Config, reg *prometheus.Registry, log *logger.Logger) *Monitoring {
	h := http.NewServeMux()
	if conf.ProfilingEnabled {
		prefix := fmt.Sprintf("%s/debug/pprof", conf.URLPrefix)
		log.Info().Msgf("Profiling is enabled at %v", prefix)
		h.HandleFunc(prefix+"/", pprof.Index)
		h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
		h.HandleFunc(prefix+"/profile", pprof.Profile)
		h.HandleFunc(prefix+"/symbol", pprof.Symbol)
		h.HandleFunc(prefix+"/trace", pprof.Trace)
	}
	if conf.MetricEnabled {
		metricPath := fmt.Sprintf("%s/metrics", conf.URLPrefix)
		log.Info().Msgf("Prometheus metric is enabled at %v", metricPath)
		h.Handle(metricPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return &Monitoring{
		conf:   conf,
		log:    log,
		server: &http.Server{Addr: fmt.Sprintf(":%d", conf.Port), Handler: h, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Run starts listening and serves in the background.
func (m *Monitoring) Run() error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return err
	}
	m.addr = ln.Addr().String()
	m.log.Info().Msgf("Starting %v at %v", m, m.addr)
	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("monitoring server failed")
		}
	}()
	return nil
}

// Addr returns the listening address once running.
func (m *Monitoring) Addr() string { return m.addr }

func (m *Monitoring) Shutdown(ctx context.Context) error {
	m.log.Debug().Msg("Shutting down monitoring server")
	return m.server.Shutdown(ctx)
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
