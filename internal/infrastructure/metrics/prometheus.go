// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hlsforge"

var (
	// ConversionsTotal counts finished conversion jobs.
	// Labels:
	//   - status: completed, failed, cancelled
	//   - encoder: the selected video encoder, empty when selection never ran
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total number of finished conversion jobs",
		},
		[]string{"status", "encoder"},
	)

	// ConversionDuration observes wall-clock time from pickup to terminal state.
	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Wall-clock duration of conversion jobs",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		},
		[]string{"status"},
	)

	// RenditionsEncodedTotal counts renditions that finished encoding.
	// Labels:
	//   - rendition: ladder label, e.g. 720p
	//   - encoder: ffmpeg encoder name
	RenditionsEncodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renditions_encoded_total",
			Help:      "Total number of encoded renditions",
		},
		[]string{"rendition", "encoder"},
	)

	// EncoderSelectionsTotal tracks which encoder the selector picked.
	EncoderSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encoder_selections_total",
			Help:      "Total number of encoder selections by encoder",
		},
		[]string{"encoder", "hardware"},
	)

	// StageResultsTotal counts pipeline stage outcomes.
	// Labels:
	//   - stage: video, thumbnails, subtitles
	//   - status: completed, failed, skipped, disabled
	StageResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Total number of pipeline stage outcomes",
		},
		[]string{"stage", "status"},
	)

	// SubtitleTracksTotal counts converted subtitle tracks by origin.
	SubtitleTracksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtitle_tracks_total",
			Help:      "Total number of converted subtitle tracks",
		},
		[]string{"source"},
	)

	// UploadedObjectsTotal counts objects published to object storage.
	UploadedObjectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_objects_total",
			Help:      "Total number of HLS objects uploaded to object storage",
		},
	)

	// CacheOperationsTotal tracks cache operations (get, set, delete).
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	//   - cache_type: redis
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// DBQueriesTotal tracks database queries.
	// Labels:
	//   - query_type: select, insert, update
	//   - table: conversion_jobs
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal counts API requests by route pattern.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	// HTTPRequestDuration observes API latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Conversion status labels.
const (
	ConversionCompleted = "completed"
	ConversionFailed    = "failed"
	ConversionCancelled = "cancelled"
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeRedis = "redis"
)

// DB query type constants.
const (
	DBQuerySelect = "select"
	DBQueryInsert = "insert"
	DBQueryUpdate = "update"
)

// Table name constants.
const (
	TableConversionJobs = "conversion_jobs"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// ObserveConversion records a finished job.
func ObserveConversion(status, encoder string, elapsed time.Duration) {
	ConversionsTotal.WithLabelValues(status, encoder).Inc()
	ConversionDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveEncoderSelection records the encoder picked for a job.
func ObserveEncoderSelection(encoder string, hardware bool) {
	hw := "false"
	if hardware {
		hw = "true"
	}
	EncoderSelectionsTotal.WithLabelValues(encoder, hw).Inc()
}
