package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "validation_total",
			Help:      "Count of booking validations by outcome.",
		},
		[]string{"outcome"},
	)

	validationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "validation_errors_total",
			Help:      "Count of field errors by field and reason.",
		},
		[]string{"field", "reason"},
	)

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "booking_created_total",
			Help:      "Count of bookings created, single or recurring.",
		},
		[]string{"kind"},
	)

	occurrencesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "occurrences_rejected_total",
			Help:      "Count of recurring occurrences rejected during submission.",
		},
	)

	seriesTruncated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "series_truncated_total",
			Help:      "Count of recurring series cut at the occurrence cap.",
		},
	)

	conflictCheckFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "conflict_check_failures_total",
			Help:      "Count of conflict lookups that failed or timed out.",
		},
	)

	statusChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "status_change_total",
			Help:      "Count of booking status transitions by target status.",
		},
		[]string{"status"},
	)

	bookingsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "studiobook",
			Name:      "bookings",
			Help:      "Stored bookings by status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studiobook",
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			validations,
			validationErrors,
			bookingCreated,
			occurrencesRejected,
			seriesTruncated,
			conflictCheckFailures,
			statusChanges,
			bookingsByStatus,
			httpRequests,
		)
	})
}

func IncValidation(outcome string) {
	validations.WithLabelValues(outcome).Inc()
}

func IncValidationError(field, reason string) {
	validationErrors.WithLabelValues(field, reason).Inc()
}

func AddBookingsCreated(kind string, n int) {
	bookingCreated.WithLabelValues(kind).Add(float64(n))
}

func AddOccurrencesRejected(n int) {
	occurrencesRejected.Add(float64(n))
}

func IncSeriesTruncated() {
	seriesTruncated.Inc()
}

func IncConflictCheckFailure() {
	conflictCheckFailures.Inc()
}

func IncStatusChange(status string) {
	statusChanges.WithLabelValues(status).Inc()
}

func SetBookingsByStatus(status string, n int) {
	bookingsByStatus.WithLabelValues(status).Set(float64(n))
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
