package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hallcall"

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	vendorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_calls_total",
			Help:      "Outbound vendor API calls by outcome.",
		},
		[]string{"vendor", "outcome"},
	)

	vendorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vendor_call_duration_seconds",
			Help:      "Outbound vendor API latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"vendor"},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per vendor (0 closed, 1 open, 2 half-open).",
		},
		[]string{"vendor"},
	)

	dialerEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialer_contacts_enqueued_total",
			Help:      "Campaign contacts handed to the dial worker.",
		},
		[]string{"campaign_id"},
	)

	callOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "campaign_call_outcomes_total",
			Help:      "Campaign call outcomes.",
		},
		[]string{"outcome"},
	)

	otpIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_issued_total",
			Help:      "One-time codes issued.",
		},
		[]string{"purpose"},
	)
)

// RecordRequest records a handled HTTP request.
func RecordRequest(method, route string, status int, latency time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(latency.Seconds())
}

// RecordVendorCall records one outbound call to a vendor API.
func RecordVendorCall(vendor string, success bool, latency time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	vendorCalls.WithLabelValues(vendor, outcome).Inc()
	vendorDuration.WithLabelValues(vendor).Observe(latency.Seconds())
}

// SetCircuitState publishes a breaker state (0 closed, 1 open, 2 half-open).
func SetCircuitState(vendor string, state int) {
	circuitState.WithLabelValues(vendor).Set(float64(state))
}

func RecordDialEnqueued(campaignID string) {
	dialerEnqueued.WithLabelValues(campaignID).Inc()
}

func RecordCallOutcome(outcome string) {
	callOutcomes.WithLabelValues(outcome).Inc()
}

func RecordOTPIssued(purpose string) {
	otpIssued.WithLabelValues(purpose).Inc()
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
