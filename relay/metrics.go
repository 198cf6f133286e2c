package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
	uploadBytes      prometheus.Histogram
	speechBytes      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "habla_relay_requests_total",
			Help: "Relay requests by route and status code",
		}, []string{"route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "habla_relay_request_duration_seconds",
			Help:    "Time to answer a relay request",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"route"}),
		upstreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "habla_relay_upstream_duration_seconds",
			Help:    "Time spent in each OpenAI call",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"op"}),
		upstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "habla_relay_upstream_errors_total",
			Help: "Failed OpenAI calls by operation",
		}, []string{"op"}),
		uploadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "habla_relay_upload_bytes",
			Help:    "Size of uploaded recordings",
			Buckets: prometheus.ExponentialBuckets(16<<10, 2, 10),
		}),
		speechBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "habla_relay_speech_bytes",
			Help:    "Size of synthesized speech returned",
			Buckets: prometheus.ExponentialBuckets(4<<10, 2, 10),
		}),
	}
}
