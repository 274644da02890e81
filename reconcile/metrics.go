package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	polls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_reconcile_fetches_total",
			Help: "Order fetches issued by reconciliation sessions",
		},
		[]string{"result"},
	)

	transitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_reconcile_payment_confirmations_total",
		Help: "Orders observed leaving pending for the first time",
	})

	staleDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_reconcile_stale_results_total",
		Help: "Fetch or push results discarded because a newer one was applied",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_reconcile_sessions_active",
		Help: "Reconciliation sessions currently polling",
	})
)
