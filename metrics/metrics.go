// Package metrics holds the Prometheus collectors of the fuel ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StayValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fuelledger_stay_validations_total",
			Help: "Stay submissions by outcome and rejecting rule",
		},
		[]string{"result", "rule"},
	)

	FuelFillsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fuelledger_fuel_fills_total",
			Help: "Total number of recorded fuel fills",
		},
	)

	CostComputationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fuelledger_cost_computations_total",
			Help: "Total number of stay cost computations",
		},
	)

	MeterReplacementsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fuelledger_meter_replacements_total",
			Help: "Total number of meter replacements",
		},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fuelledger_request_duration_seconds",
			Help:    "HTTP request duration in seconds per route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)
)
