package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medcheck_checkins_total",
		Help: "Sessions opened by student check-in.",
	})
	checkOuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medcheck_checkouts_total",
		Help: "Sessions closed by student check-out.",
	})
)
