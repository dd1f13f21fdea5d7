package monitoring

import "github.com/prometheus/client_golang/prometheus"

const namespace = "depthstream"

// Failure kinds.
const (
	FailCapture = "capture"
	FailChroma  = "chroma"
	FailSubmit  = "submit"
	FailReceive = "receive"
	FailWrite   = "write"
	FailFlush   = "flush"
	FailCancel  = "cancelled"
)

// Metrics of a streaming session. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FramesCaptured  prometheus.Counter
	FramesSubmitted prometheus.Counter
	Packets         prometheus.Counter
	Bytes           prometheus.Counter
	Failures        *prometheus.CounterVec
	State           prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_captured_total", Help: "Depth frames read from the camera.",
		}),
		FramesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_submitted_total", Help: "Frames accepted by the encoder.",
		}),
		Packets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_total", Help: "Encoded packets written to the output.",
		}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "output_bytes_total", Help: "Bytes written to the output.",
		}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "failures_total", Help: "Fatal session failures by kind.",
		}, []string{"kind"}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "encoder_state", Help: "Encoder pipeline state: 0 idle, 1 streaming, 2 flushing, 3 drained.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FramesCaptured, m.FramesSubmitted, m.Packets, m.Bytes, m.Failures, m.State)
	}
	return m
}

func (m *Metrics) Captured() {
	if m != nil {
		m.FramesCaptured.Inc()
	}
}

func (m *Metrics) Submitted() {
	if m != nil {
		m.FramesSubmitted.Inc()
	}
}

func (m *Metrics) Packet(size int) {
	if m != nil {
		m.Packets.Inc()
		m.Bytes.Add(float64(size))
	}
}

func (m *Metrics) Failure(kind string) {
	if m != nil {
		m.Failures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetState(s int) {
	if m != nil {
		m.State.Set(float64(s))
	}
}
