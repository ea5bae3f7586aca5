package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters shared by the brewflow services. Label values
// identify the topic or outcome, not the payload.
type Metrics struct {
	OrdersCreated        prometheus.Counter
	ReservationsRejected prometheus.Counter
	PaymentsProcessed    *prometheus.CounterVec
	EventsPublished      *prometheus.CounterVec
	EventsConsumed       *prometheus.CounterVec
}

func New(service string) *Metrics {
	return NewWith(prometheus.DefaultRegisterer, service)
}

// NewWith registers the counters on the given registerer; tests pass their
// own registry.
func NewWith(reg prometheus.Registerer, service string) *Metrics {
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "brewflow",
		Subsystem: service,
		Name:      "orders_created_total",
		Help:      "Total number of orders successfully created.",
	})
	reservationsRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "brewflow",
		Subsystem: service,
		Name:      "reservations_rejected_total",
		Help:      "Total number of reservations rejected for insufficient stock.",
	})
	paymentsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brewflow",
		Subsystem: service,
		Name:      "payments_processed_total",
		Help:      "Total number of payment outcomes, by status.",
	}, []string{"status"})
	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brewflow",
		Subsystem: service,
		Name:      "events_published_total",
		Help:      "Total number of events published, by topic and result.",
	}, []string{"topic", "result"})
	eventsConsumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brewflow",
		Subsystem: service,
		Name:      "events_consumed_total",
		Help:      "Total number of events consumed, by topic and result.",
	}, []string{"topic", "result"})

	reg.MustRegister(ordersCreated, reservationsRejected, paymentsProcessed, eventsPublished, eventsConsumed)

	return &Metrics{
		OrdersCreated:        ordersCreated,
		ReservationsRejected: reservationsRejected,
		PaymentsProcessed:    paymentsProcessed,
		EventsPublished:      eventsPublished,
		EventsConsumed:       eventsConsumed,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
