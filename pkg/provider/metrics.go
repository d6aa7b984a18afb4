package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kidcode_provider_requests_total",
		Help: "Upstream completion calls by provider, kind and outcome.",
	}, []string{"provider", "kind", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kidcode_provider_request_duration_seconds",
		Help:    "Latency of upstream completion calls.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
	}, []string{"provider", "kind"})

	contentRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kidcode_content_policy_rejections_total",
		Help: "Prompts rejected locally by the content policy.",
	})
)
