package metrics

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bookingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_booking_outcomes_total",
			Help: "Bookings by the state they finished in",
		},
		[]string{"state"},
	)

	bookingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eventhub_booking_duration_seconds",
			Help:    "Time from booking request to final state",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"state"},
	)

	ledgerOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_ledger_operations_total",
			Help: "Inventory ledger operations by result",
		},
		[]string{"operation", "result"},
	)

	activeHolds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventhub_active_holds",
			Help: "Reservations currently holding inventory in this process's view",
		},
	)

	gatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventhub_gateway_calls_total",
			Help: "Payment gateway calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	notificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventhub_notifications_dropped_total",
			Help: "Notifications dropped because the dispatch queue was full",
		},
	)
)

func BookingFinished(state string, started time.Time) {
	bookingOutcomes.WithLabelValues(state).Inc()
	bookingLatency.WithLabelValues(state).Observe(time.Since(started).Seconds())
}

func LedgerOp(operation, result string) {
	ledgerOps.WithLabelValues(operation, result).Inc()
}

func HoldOpened() {
	activeHolds.Inc()
}

func HoldClosed() {
	activeHolds.Dec()
}

func NotificationDrop() {
	notificationsDropped.Inc()
}

func GatewayCall(operation string, err error) {
	gatewayCalls.WithLabelValues(operation, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler exposes the default registry for scraping.
func Handler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	promhttp.Handler().ServeHTTP(w, r)
}
