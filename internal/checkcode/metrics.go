package checkcode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	codesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medcheck_codes_issued_total",
		Help: "Rotating check-in codes minted.",
	})
	codesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medcheck_codes_swept_total",
		Help: "Unused check-in codes removed by the cleanup sweep.",
	})
)
