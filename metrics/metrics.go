package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pocp_requests_sent_total",
		Help: "Connection requests created.",
	})

	RequestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocp_request_transitions_total",
		Help: "Connection requests moved out of PENDING, by resulting status.",
	}, []string{"status"})

	EnrolledAttendees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pocp_enrolled_attendees_total",
		Help: "Attendee memberships created by roster ingestion.",
	})

	AttestationExports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pocp_attestation_exports_total",
		Help: "Attestation snapshot exports, by result.",
	}, []string{"result"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pocp_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Middleware records request latency labelled by the matched route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		httpDuration.
			WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
		return err
	}
}
