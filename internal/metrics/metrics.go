package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "intake"

// Label names.
const (
	LabelCategory  = "category"
	LabelOutcome   = "outcome"
	LabelOperation = "operation"
	LabelMethod    = "method"
	LabelPath      = "path"
	LabelStatus    = "status"
	LabelType      = "type"
)

// Outcome label values.
const (
	OutcomeOK         = "ok"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
	OutcomeUnreadable = "unreadable"
	OutcomeDropped    = "dropped"
)

// Scan metrics
var (
	FilesAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_files_admitted_total",
			Help:      "Files admitted by a scan, by category.",
		},
		[]string{LabelCategory},
	)

	HintsExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_hints_extracted_total",
			Help:      "Admitted files that produced a vehicle hint.",
		},
	)

	ScanRoots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_roots_total",
			Help:      "Scan roots visited, by outcome.",
		},
		[]string{LabelOutcome},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of complete scans.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)
)

// Sync metrics
var (
	SyncItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Vehicle records dispatched to the ingestion endpoint, by outcome.",
		},
		[]string{LabelOutcome},
	)

	SyncBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_batches_total",
			Help:      "Batches handled by the sync processor, by outcome.",
		},
		[]string{LabelOutcome},
	)
)

// Vision metrics
var (
	VisionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_requests_total",
			Help:      "Requests sent to the vision model service.",
		},
		[]string{LabelOperation, LabelOutcome},
	)

	VisionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_cache_hits_total",
			Help:      "Local analyses served from the in-memory cache.",
		},
	)
)

// Event bus metrics
var EventsPublished = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events offered to the in-process bus, by type and outcome.",
	},
	[]string{LabelType, LabelOutcome},
)

// Watch metrics
var WatchEvents = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watch_file_events_total",
		Help:      "Candidate files reported by the filesystem watcher.",
	},
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)
)
