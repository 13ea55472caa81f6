// Package metrics exposes Prometheus instruments for the auction.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultStale    = "stale"
	ResultFailed   = "failed"
)

var (
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_settlements_total",
		Help: "Sale settlement attempts by result.",
	}, []string{"result"})

	Reversals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_reversals_total",
		Help: "Sale reversal attempts by result.",
	}, []string{"result"})

	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_compensations_total",
		Help: "Rollback steps run after a failed non-transactional write, by result.",
	}, []string{"result"})

	SoldAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_sold_amount_total",
		Help: "Sum of settled sale amounts. Reversals are not subtracted.",
	})

	RemainingPurse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "auction_team_remaining_purse",
		Help: "Remaining purse per team after its last sale or reversal.",
	}, []string{"team"})

	LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_live_clients",
		Help: "Connected live feed clients.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
