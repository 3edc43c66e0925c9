package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	fpgaudio "github.com/fpgaudio/fpgaudio-demo"
	"github.com/fpgaudio/fpgaudio-demo/proto"
)

// Metrics are the Prometheus collectors fed by the ingestion path, the streaming buffer and
// the audio callback. All updates are lock-free and safe on the audio thread.
type Metrics struct {
	datagrams      *prometheus.CounterVec
	bufferLength   prometheus.Gauge
	underflows     prometheus.Counter
	framesRendered prometheus.Counter
	recorded       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fpgaudio_datagrams_total",
			Help: "Datagrams received by the ingestion loop, by validation result.",
		}, []string{"result"}),
		bufferLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fpgaudio_buffer_length",
			Help: "Records currently held in the streaming buffer.",
		}),
		underflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpgaudio_buffer_underflows_total",
			Help: "Streaming buffer reads that asked for more records than were held.",
		}),
		framesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpgaudio_frames_rendered_total",
			Help: "Audio frames committed by the output callback.",
		}),
		recorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fpgaudio_records_persisted_total",
			Help: "Records written to the session recording.",
		}),
	}

	reg.MustRegister(m.datagrams, m.bufferLength, m.underflows, m.framesRendered, m.recorded)

	// pre-create both series so they are exported at zero
	m.datagrams.WithLabelValues("accepted")
	m.datagrams.WithLabelValues("rejected")

	return m
}

func (m *Metrics) BufferObserver() fpgaudio.BufferObserver {
	setLen := func(_, size int) {
		m.bufferLength.Set(float64(size))
	}
	return fpgaudio.BufferObserver{
		OnWrite: setLen,
		OnRead:  setLen,
		OnUnderflow: func(_, size int) {
			m.underflows.Inc()
			m.bufferLength.Set(float64(size))
		},
	}
}

// RecordSinkConfig returns hooks counting accepted and rejected datagrams.
func (m *Metrics) RecordSinkConfig(config fpgaudio.RecordSinkConfig) fpgaudio.RecordSinkConfig {
	accepted := m.datagrams.WithLabelValues("accepted")
	rejected := m.datagrams.WithLabelValues("rejected")

	onAccept, onReject := config.OnAccept, config.OnReject
	config.OnAccept = func(rec proto.ControlRecord) {
		accepted.Inc()
		if onAccept != nil {
			onAccept(rec)
		}
	}
	config.OnReject = func(size int, err error) {
		rejected.Inc()
		if onReject != nil {
			onReject(size, err)
		}
	}
	return config
}

func (m *Metrics) FramesRendered(n int) {
	m.framesRendered.Add(float64(n))
}

func (m *Metrics) RecordsPersisted(n int) {
	m.recorded.Add(float64(n))
}
