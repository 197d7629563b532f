// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReservationsTotal 按结果统计预约请求，result 为 ok 或错误码
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealhub",
		Name:      "reservations_total",
		Help:      "Reservation attempts partitioned by outcome.",
	}, []string{"result"})

	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealhub",
		Name:      "redemptions_total",
		Help:      "Deal redemption attempts partitioned by outcome.",
	}, []string{"result"})

	DealDeactivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dealhub",
		Name:      "deal_deactivations_total",
		Help:      "Deals switched off by capacity or expiry write-back.",
	})

	SweepTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealhub",
		Name:      "sweep_transitions_total",
		Help:      "Records advanced by maintenance sweeps.",
	}, []string{"job"})

	BillingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealhub",
		Name:      "billing_runs_total",
		Help:      "Billing statement creations partitioned by outcome.",
	}, []string{"result"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealhub",
		Name:      "notifications_total",
		Help:      "Notifications handed to the transport partitioned by outcome.",
	}, []string{"result"})
)
