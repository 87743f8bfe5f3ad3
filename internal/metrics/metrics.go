// Package metrics defines the Prometheus collectors exported by the voice server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Voice collects turn-taking metrics. A nil *Voice is valid and records nothing.
type Voice struct {
	transitions  *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	callErrors   *prometheus.CounterVec
	stale        *prometheus.CounterVec
	sessions     prometheus.Gauge
	utterance    prometheus.Histogram
}

// NewVoice creates the voice collectors and registers them on reg when it is non-nil.
func NewVoice(reg prometheus.Registerer) *Voice {
	v := &Voice{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "phase_transitions_total",
			Help:      "Turn-taking phase transitions.",
		}, []string{"from", "to"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "voice",
			Name:      "collaborator_duration_seconds",
			Help:      "Latency of speech-to-text, chat and text-to-speech calls.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16},
		}, []string{"step"}),
		callErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "collaborator_errors_total",
			Help:      "Failed collaborator calls.",
		}, []string{"step"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "stale_results_total",
			Help:      "Asynchronous results discarded because the session moved on.",
		}, []string{"event"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voice",
			Name:      "sessions_active",
			Help:      "Voice sessions currently running.",
		}),
		utterance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voice",
			Name:      "utterance_seconds",
			Help:      "Length of finalized user utterances.",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 16, 32},
		}),
	}
	if reg != nil {
		reg.MustRegister(v.transitions, v.callDuration, v.callErrors, v.stale, v.sessions, v.utterance)
	}
	return v
}

func (v *Voice) Transition(from, to string) {
	if v == nil {
		return
	}
	v.transitions.WithLabelValues(from, to).Inc()
}

// ObserveCall records a collaborator call; failed calls also count as errors.
func (v *Voice) ObserveCall(step string, d time.Duration, err error) {
	if v == nil {
		return
	}
	v.callDuration.WithLabelValues(step).Observe(d.Seconds())
	if err != nil {
		v.callErrors.WithLabelValues(step).Inc()
	}
}

func (v *Voice) Stale(event string) {
	if v == nil {
		return
	}
	v.stale.WithLabelValues(event).Inc()
}

func (v *Voice) SessionStarted() {
	if v == nil {
		return
	}
	v.sessions.Inc()
}

func (v *Voice) SessionEnded() {
	if v == nil {
		return
	}
	v.sessions.Dec()
}

func (v *Voice) Utterance(d time.Duration) {
	if v == nil {
		return
	}
	v.utterance.Observe(d.Seconds())
}
