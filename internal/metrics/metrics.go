// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics holds the Prometheus instrumentation shared across the
// daemon. One Metrics value is created at startup and handed to each
// component; the registry is exposed on /metrics by the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry *prometheus.Registry

	ObservationsTotal  prometheus.Counter
	BatchesDropped     prometheus.Counter
	DetectionsWritten  prometheus.Counter
	UnattributedHosts  prometheus.Counter
	FilterSyncsTotal   prometheus.Counter
	FilterSyncFailures prometheus.Counter
	FilterSyncDuration prometheus.Histogram
	BlockedIPCount     prometheus.Gauge
	ActiveSessions     prometheus.Gauge
	LoginsTotal        *prometheus.CounterVec
	BansTotal          *prometheus.CounterVec
	ProbeFailures      prometheus.Counter
	AnomalyCycles      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ObservationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_observations_total",
			Help: "Total number of hostname observations captured",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_batches_dropped_total",
			Help: "Detection batches dropped because the writer fell behind",
		}),
		DetectionsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_detections_written_total",
			Help: "Detection records written to the store",
		}),
		UnattributedHosts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_unattributed_observations_total",
			Help: "Observations dropped because the source IP had no active session",
		}),
		FilterSyncsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_filter_syncs_total",
			Help: "Completed filter policy synchronisations",
		}),
		FilterSyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_filter_sync_failures_total",
			Help: "Filter synchronisations that failed after retry",
		}),
		FilterSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "campusgate_filter_sync_duration_seconds",
			Help:    "Wall time of filter policy synchronisation including resolution",
			Buckets: prometheus.DefBuckets,
		}),
		BlockedIPCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusgate_blocked_ips",
			Help: "Number of IPv4 addresses currently in the deny set",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "campusgate_active_sessions",
			Help: "Number of currently active sessions",
		}),
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusgate_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		BansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusgate_bans_total",
			Help: "Bans issued by kind",
		}, []string{"kind"}),
		ProbeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_probe_failures_total",
			Help: "Liveness probes that found an unreachable client",
		}),
		AnomalyCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "campusgate_anomaly_cycles_total",
			Help: "Completed anomaly evaluation cycles",
		}),
	}

	m.registry.MustRegister(
		m.ObservationsTotal, m.BatchesDropped, m.DetectionsWritten,
		m.UnattributedHosts, m.FilterSyncsTotal, m.FilterSyncFailures,
		m.FilterSyncDuration, m.BlockedIPCount, m.ActiveSessions,
		m.LoginsTotal, m.BansTotal, m.ProbeFailures, m.AnomalyCycles,
	)
	return m
}

// Registry returns the registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
