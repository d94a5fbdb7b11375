/**
 * @description
 * This package exposes the Prometheus collectors for the service: HTTP
 * request instrumentation plus counters for the workflow's moving parts
 * (payments, outbox publishes, notification channel deliveries).
 *
 * @dependencies
 * - github.com/prometheus/client_golang: Metrics primitives and the
 *   /metrics HTTP handler.
 */
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assistance",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistance",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "assistance",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	paymentOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistance",
			Subsystem: "workflow",
			Name:      "payments_total",
			Help:      "Payment lifecycle outcomes.",
		},
		[]string{"status"},
	)

	outboxPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistance",
			Subsystem: "outbox",
			Name:      "publishes_total",
			Help:      "Outbox messages published to the exchange.",
		},
		[]string{"success"},
	)

	channelDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistance",
			Subsystem: "notifications",
			Name:      "channel_deliveries_total",
			Help:      "Notification delivery attempts per channel.",
		},
		[]string{"channel", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		paymentOutcomes,
		outboxPublishes,
		channelDeliveries,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPaymentOutcome counts one payment reaching the given status.
func RecordPaymentOutcome(status string) {
	paymentOutcomes.WithLabelValues(status).Inc()
}

// RecordOutboxPublish counts one outbox publish attempt.
func RecordOutboxPublish(success bool) {
	outboxPublishes.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordChannelDelivery counts one notification channel delivery attempt.
func RecordChannelDelivery(channel string, success bool) {
	channelDeliveries.WithLabelValues(channel, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource IDs so the path label stays low
// cardinality.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		if _, err := uuid.Parse(part); err == nil {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
