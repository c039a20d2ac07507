// Package metrics exposes Prometheus instruments for the request pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audio_dialogue"

// Request outcomes.
const (
	OutcomeOK             = "ok"
	OutcomeBadRequest     = "bad_request"
	OutcomeDecodeError    = "decode_error"
	OutcomeInferenceError = "inference_error"
	OutcomeTimeout        = "timeout"
	OutcomeCancelled      = "cancelled"
)

// Metrics owns its registry so tests and multiple servers never collide on
// the global one.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	inferenceDuration *prometheus.HistogramVec
	turnsAppended     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Audio requests by outcome",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Normalization stage duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"stage", "status"},
		),
		inferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Engine call duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		turnsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_appended_total",
			Help:      "Dialogue turns committed to conversation history",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.stageDuration,
		m.inferenceDuration,
		m.turnsAppended,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Request counts one finished request.
func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage matches audio.StageObserver once the stage is stringified.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status(err)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveInference(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(status(err)).Observe(elapsed.Seconds())
}

func (m *Metrics) TurnsAppended(n int) {
	if m == nil {
		return
	}
	m.turnsAppended.Add(float64(n))
}

// TrackConversations publishes fn as the live conversation gauge.
func (m *Metrics) TrackConversations(fn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conversations",
		Help:      "Conversations currently held in memory",
	}, func() float64 { return float64(fn()) }))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
