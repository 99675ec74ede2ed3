package permissions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisions = promauto.NewCounterVec( //nolint:gochecknoglobals
	prometheus.CounterOpts{
		Namespace: "dirsync",
		Name:      "permission_requests_closed_total",
		Help:      "Permission requests closed per subsystem and final status.",
	},
	[]string{"subsystem", "status"},
)
