package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	samplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "samples_ingested_total",
		Help: "Total number of samples written to the durable store via upload",
	})

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uploads_total",
		Help: "Upload jobs by terminal status",
	}, []string{"status"})
)
