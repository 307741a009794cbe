// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts attendance submissions by action and outcome (ok or error kind).
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_submissions_total",
		Help: "Attendance submissions by action and outcome.",
	}, []string{"action", "outcome"})

	// FaceDistance observes biometric distances of completed comparisons.
	FaceDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presensi_face_distance",
		Help:    "Euclidean distance between stored and submitted face vectors.",
		Buckets: []float64{0.1, 0.2, 0.3, 0.35, 0.4, 0.45, 0.5, 0.6, 0.8, 1.0},
	})

	// GeofenceDistance observes distances from campus in meters.
	GeofenceDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presensi_geofence_distance_meters",
		Help:    "Distance between the submitted position and the campus center.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 12),
	})

	// BiometricSeconds times the biometric step.
	BiometricSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "presensi_biometric_seconds",
		Help:    "Time spent extracting and comparing face vectors.",
		Buckets: prometheus.DefBuckets,
	})

	// EventsProcessed counts feed events handled by the worker.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_events_processed_total",
		Help: "Attendance feed events processed by the worker.",
	}, []string{"action", "result"})
)
