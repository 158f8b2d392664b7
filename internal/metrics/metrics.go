package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	LicensesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlm_licenses_generated_total",
			Help: "License keys minted by generators",
		},
		[]string{"saved"}, // true|false
	)

	Activations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlm_activations_total",
			Help: "Activation requests by action and result code",
		},
		[]string{"action", "result"}, // activate|deactivate|reactivate , ok|<error code>
	)

	OrdersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlm_orders_processed_total",
			Help: "Order events handled by the orders worker",
		},
		[]string{"outcome"}, // fulfilled|revoked|ignored|failed
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlm_deliveries_total",
			Help: "License deliveries to providers",
		},
		[]string{"result"}, // delivered|failed
	)

	EventsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlm_events_ingested_total",
			Help: "License events written to ClickHouse",
		},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors once; later calls are no-ops so the
// server and workers can share a process.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			LicensesGenerated,
			Activations,
			OrdersProcessed,
			Deliveries,
			EventsIngested,
		)
	})
}
