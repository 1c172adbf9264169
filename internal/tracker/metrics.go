package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gophstore_transfers_total",
		Help: "Transfers that reached a status, by kind and status.",
	}, []string{"kind", "status"})

	transferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gophstore_transfer_bytes_total",
		Help: "Bytes moved by tracked transfers, by kind.",
	}, []string{"kind"})

	transfersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gophstore_transfers_active",
		Help: "Transfers currently in progress, by kind.",
	}, []string{"kind"})
)
