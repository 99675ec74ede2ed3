package ldapbackend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	keyChanges = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Namespace: "dirsync",
			Name:      "ssh_key_changes_total",
			Help:      "SSH key values added to or removed from the directory and records written by imports.",
		},
		[]string{"subsystem", "change"},
	)

	provisioned = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Namespace: "dirsync",
			Name:      "accounts_provisioned_total",
			Help:      "Provisioning outcomes per subsystem.",
		},
		[]string{"subsystem", "outcome"},
	)
)
