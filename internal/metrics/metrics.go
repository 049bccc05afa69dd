package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	messagesHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripbot",
			Name:      "messages_total",
			Help:      "Inbound messages by step they were handled in.",
		},
		[]string{"step"},
	)

	sessionResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripbot",
			Name:      "session_resets_total",
			Help:      "Sessions sent back to welcome, by reason.",
		},
		[]string{"reason"},
	)

	bookingAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripbot",
			Name:      "booking_attempts_total",
			Help:      "Booking confirmations by outcome.",
		},
		[]string{"result"},
	)

	seatsReserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tripbot",
			Name:      "seats_reserved_total",
			Help:      "Seats taken from the ledger.",
		},
	)

	paymentLinks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripbot",
			Name:      "payment_links_total",
			Help:      "Payment link requests by outcome.",
		},
		[]string{"result"},
	)

	paymentsConfirmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tripbot",
			Name:      "payments_confirmed_total",
			Help:      "Bookings marked paid by provider callbacks.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tripbot",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	throttled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tripbot",
			Name:      "throttled_messages_total",
			Help:      "Inbound messages dropped by the per-user rate limit.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			messagesHandled, sessionResets, bookingAttempts, seatsReserved,
			paymentLinks, paymentsConfirmed, httpRequests, throttled,
		)
	})
}

func IncMessage(step string) {
	messagesHandled.WithLabelValues(step).Inc()
}

func IncSessionReset(reason string) {
	sessionResets.WithLabelValues(reason).Inc()
}

func IncBookingAttempt(result string) {
	bookingAttempts.WithLabelValues(result).Inc()
}

func AddSeatsReserved(n int) {
	seatsReserved.Add(float64(n))
}

func IncPaymentLink(result string) {
	paymentLinks.WithLabelValues(result).Inc()
}

func IncPaymentConfirmed() {
	paymentsConfirmed.Inc()
}

func IncHTTPRequest(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

func IncThrottled() {
	throttled.Inc()
}
