// Package metrics exposes texshare activity as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so library code can call
// its methods unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "texshare"

// Metrics holds the texshare collectors.
type Metrics struct {
	framesSignaled  *prometheus.CounterVec
	framesObserved  *prometheus.CounterVec
	framesSkipped   *prometheus.CounterVec
	waitTimeouts    *prometheus.CounterVec
	connectFailures *prometheus.CounterVec
	signalDuration  prometheus.Histogram
	producers       prometheus.Gauge
	consumers       prometheus.Gauge
	watcherState    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg
// registers with prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		framesSignaled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_signaled_total",
				Help:      "Frames published by local producers",
			},
			[]string{"stream"},
		),
		framesObserved: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_observed_total",
				Help:      "Successful frame waits by local consumers",
			},
			[]string{"stream"},
		),
		framesSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_skipped_total",
				Help:      "Frames published but never observed by local consumers",
			},
			[]string{"stream"},
		),
		waitTimeouts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wait_timeouts_total",
				Help:      "Frame waits that ended without a new frame",
			},
			[]string{"stream"},
		),
		connectFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_failures_total",
				Help:      "Failed attempts to attach to a producer",
			},
			[]string{"reason"}, // not_found, import, incompatible
		),
		signalDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "signal_duration_seconds",
				Help:      "Time to flush and publish one frame",
				Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
			},
		),
		producers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "producers",
				Help:      "Open producers in this process",
			},
		),
		consumers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "consumers",
				Help:      "Open consumers in this process",
			},
		),
		watcherState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "watcher_state",
				Help:      "1 for the current state of each watcher, 0 otherwise",
			},
			[]string{"watcher", "state"},
		),
	}
}

// FrameSignaled records a published frame and the time it took.
func (m *Metrics) FrameSignaled(stream string, d time.Duration) {
	if m == nil {
		return
	}
	m.framesSignaled.WithLabelValues(stream).Inc()
	m.signalDuration.Observe(d.Seconds())
}

// FrameObserved records a successful wait that skipped skipped frames.
func (m *Metrics) FrameObserved(stream string, skipped uint64) {
	if m == nil {
		return
	}
	m.framesObserved.WithLabelValues(stream).Inc()
	if skipped > 0 {
		m.framesSkipped.WithLabelValues(stream).Add(float64(skipped))
	}
}

// WaitTimedOut records a wait that ended without a frame.
func (m *Metrics) WaitTimedOut(stream string) {
	if m == nil {
		return
	}
	m.waitTimeouts.WithLabelValues(stream).Inc()
}

// ConnectFailed records a failed attach.
func (m *Metrics) ConnectFailed(reason string) {
	if m == nil {
		return
	}
	m.connectFailures.WithLabelValues(reason).Inc()
}

// ProducerOpened increments the producer gauge.
func (m *Metrics) ProducerOpened() {
	if m != nil {
		m.producers.Inc()
	}
}

// ProducerClosed decrements the producer gauge.
func (m *Metrics) ProducerClosed() {
	if m != nil {
		m.producers.Dec()
	}
}

// ConsumerOpened increments the consumer gauge.
func (m *Metrics) ConsumerOpened() {
	if m != nil {
		m.consumers.Inc()
	}
}

// ConsumerClosed decrements the consumer gauge.
func (m *Metrics) ConsumerClosed() {
	if m != nil {
		m.consumers.Dec()
	}
}

// WatcherState marks state as current for watcher among states.
func (m *Metrics) WatcherState(watcher, state string, states []string) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.watcherState.WithLabelValues(watcher, s).Set(v)
	}
}
