package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the session counters exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal     *prometheus.CounterVec
	recordingsTotal     prometheus.Counter
	failuresTotal       *prometheus.CounterVec
	playbackEndedTotal  prometheus.Counter
	droppedEventsTotal  prometheus.Counter
	mode                *prometheus.GaugeVec
	levelDB             prometheus.Gauge
	positionSeconds     prometheus.Gauge
	lastRecordingUnixTs prometheus.Gauge
}

// NewMetrics registers the session metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiocomments_operations_total",
				Help: "Total number of session operations requested",
			},
			[]string{"operation"},
		),
		recordingsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "audiocomments_recordings_total",
				Help: "Total number of recordings committed",
			},
		),
		failuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audiocomments_failures_total",
				Help: "Total number of session failures by kind",
			},
			[]string{"kind"},
		),
		playbackEndedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "audiocomments_playback_ended_total",
				Help: "Total number of playbacks that reached the end of the recording",
			},
		),
		droppedEventsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "audiocomments_events_dropped_total",
				Help: "Total number of events dropped for slow subscribers",
			},
		),
		mode: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "audiocomments_session_mode",
				Help: "1 for the current session mode, 0 otherwise",
			},
			[]string{"mode"},
		),
		levelDB: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiocomments_level_dbfs",
				Help: "Most recent recording or playback level in dBFS",
			},
		),
		positionSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiocomments_playback_position_seconds",
				Help: "Most recent playback position in seconds",
			},
		),
		lastRecordingUnixTs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "audiocomments_last_recording_timestamp_seconds",
				Help: "Unix time of the last committed recording",
			},
		),
	}
}

// Registry returns the registry to serve with promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) setMode(current string, all ...string) {
	for _, name := range all {
		v := 0.0
		if name == current {
			v = 1
		}
		m.mode.WithLabelValues(name).Set(v)
	}
}
