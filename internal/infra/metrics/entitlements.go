package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		grantsTotal,
		freeDaysConsumedTotal,
		overtimeBilledIRRTotal,
		sweepRunsTotal,
		beneficiariesByStatus,
	)
}

var (
	grantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_grants_total",
			Help: "Free-day grants issued, by source (manual, signup, sweeps).",
		},
		[]string{"source"},
	)

	freeDaysConsumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_free_days_consumed_total",
			Help: "Free days applied to completed rides.",
		},
	)

	overtimeBilledIRRTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_overtime_billed_irr_total",
			Help: "IRR billed for ride time past the free usage window.",
		},
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_sweep_runs_total",
			Help: "Eligibility sweep executions, by sweep and outcome.",
		},
		[]string{"sweep", "outcome"}, // outcome: 'ok', 'error', 'skipped'
	)

	beneficiariesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entitlement_beneficiaries",
			Help: "Current beneficiary rows by status.",
		},
		[]string{"status"}, // 'pending', 'active', 'exhausted'
	)
)

func IncGrants(source string, n int) {
	grantsTotal.WithLabelValues(norm(source)).Add(float64(n))
}

func IncFreeDaysConsumed() { freeDaysConsumedTotal.Inc() }

func AddOvertimeBilled(amountIRR int64) {
	overtimeBilledIRRTotal.Add(float64(amountIRR))
}

func IncSweepRun(sweep, outcome string) {
	sweepRunsTotal.WithLabelValues(norm(sweep), norm(outcome)).Inc()
}

func SetBeneficiaries(status string, n int) {
	beneficiariesByStatus.WithLabelValues(norm(status)).Set(float64(n))
}
