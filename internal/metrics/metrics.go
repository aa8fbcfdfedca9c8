package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal counts outbound gift sends.
	// kind: scheduled|on_demand|initial, status: ok|error.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advent_bot_deliveries_total",
			Help: "Gift deliveries by kind and status",
		},
		[]string{"kind", "status"},
	)

	PlansCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advent_bot_plans_created_total",
			Help: "Completed date selections (plan upserts via the menu)",
		},
	)

	ArmedTimers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "advent_bot_armed_timers",
			Help: "Pending per-chat delivery timers",
		},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "advent_bot_subscribers",
			Help: "Plans known to the store at last refresh",
		},
	)
)
