// Package metrics provides Prometheus metrics for the livearc supervisor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label cardinality is bounded by construction: platform names and event kinds
// are small static sets, never URLs or file names.

var (
	// ProbeTotal counts liveness probes by platform and result (live/offline/error).
	ProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livearc_probe_total",
		Help: "Total number of liveness probes, by platform and result.",
	}, []string{"platform", "result"})

	// BusEventsTotal counts events accepted by the bus dispatcher.
	BusEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livearc_bus_events_total",
		Help: "Total number of events published to the event bus, by kind.",
	}, []string{"kind"})

	// HandlerErrorsTotal counts handler failures isolated at the bus boundary.
	HandlerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livearc_handler_errors_total",
		Help: "Total number of handler errors swallowed at the bus boundary, by kind.",
	}, []string{"kind"})

	// SessionsActive tracks recording sessions currently running.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livearc_sessions_active",
		Help: "Number of recording sessions currently in progress.",
	})

	// SegmentsTotal counts finished segments by platform.
	SegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livearc_segments_total",
		Help: "Total number of finished recording segments, by platform.",
	}, []string{"platform"})

	// UploadsTotal counts upload attempts by result (ok/error/skipped/empty).
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livearc_uploads_total",
		Help: "Total number of upload sessions, by result.",
	}, []string{"result"})

	// UploadedFilesTotal counts files the upload adapter reported as done.
	UploadedFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livearc_uploaded_files_total",
		Help: "Total number of files successfully handed to an upload adapter.",
	})

	// ReloadPending reports whether the hot-reload coordinator is waiting for quiescence.
	ReloadPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livearc_reload_pending",
		Help: "1 while a restart is pending and the coordinator waits for quiescence.",
	})
)
