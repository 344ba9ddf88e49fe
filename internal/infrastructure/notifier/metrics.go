package notifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gowith_notifications_total",
		Help: "Match notifications by outcome",
	},
	[]string{"outcome"},
)
