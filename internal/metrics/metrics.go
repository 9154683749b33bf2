package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obiente/translate/livescribe/internal/capture"
)

const namespace = "livescribe"

// Metrics is the Prometheus view of the capture loop and its consumers.
// It implements capture.Recorder.
type Metrics struct {
	reg *prometheus.Registry

	chunksRead        prometheus.Counter
	bytesRead         prometheus.Counter
	chunksDropped     prometheus.Counter
	chunksTranscribed prometheus.Counter
	transcribeErrors  prometheus.Counter
	transcribeLatency prometheus.Histogram
	fragments         prometheus.Counter
	capturing         prometheus.Gauge
	sessions          prometheus.Counter
	translations      *prometheus.CounterVec
	wsClients         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		chunksRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_read_total",
			Help: "Non-empty audio reads taken from the capture source.",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "audio_bytes_read_total",
			Help: "PCM bytes read from the capture source.",
		}),
		chunksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_dropped_total",
			Help: "Chunks discarded because the engine was not ready.",
		}),
		chunksTranscribed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_transcribed_total",
			Help: "Chunks handed to the engine.",
		}),
		transcribeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "transcribe_errors_total",
			Help: "Chunks the engine failed on.",
		}),
		transcribeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "transcribe_seconds",
			Help:    "Engine latency per chunk.",
			Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fragments_total",
			Help: "Non-blank fragments delivered to the transcript.",
		}),
		capturing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "capturing",
			Help: "1 while a capture session is running.",
		}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "capture_sessions_total",
			Help: "Capture sessions started.",
		}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "translations_total",
			Help: "Fragment translations by outcome.",
		}, []string{"outcome"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ws_clients",
			Help: "Connected websocket clients.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.chunksRead, m.bytesRead, m.chunksDropped, m.chunksTranscribed,
		m.transcribeErrors, m.transcribeLatency, m.fragments, m.capturing,
		m.sessions, m.translations, m.wsClients,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ChunkRead(bytes int) {
	m.chunksRead.Inc()
	m.bytesRead.Add(float64(bytes))
}

func (m *Metrics) ChunkDropped() { m.chunksDropped.Inc() }

func (m *Metrics) ChunkTranscribed(d time.Duration, err error) {
	m.chunksTranscribed.Inc()
	m.transcribeLatency.Observe(d.Seconds())
	if err != nil {
		m.transcribeErrors.Inc()
	}
}

func (m *Metrics) FragmentDelivered() { m.fragments.Inc() }

func (m *Metrics) StateChanged(s capture.CaptureState) {
	if s == capture.Capturing {
		m.capturing.Set(1)
		m.sessions.Inc()
		return
	}
	m.capturing.Set(0)
}

// TranslationDone counts one translation attempt.
func (m *Metrics) TranslationDone(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.translations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ClientConnected() { m.wsClients.Inc() }

func (m *Metrics) ClientDisconnected() { m.wsClients.Dec() }
