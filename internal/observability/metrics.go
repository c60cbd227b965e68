package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the counters the payment core reports.
type Metrics struct {
	Registry *prometheus.Registry

	// SettlementsTotal counts ledger entries created, by channel.
	SettlementsTotal *prometheus.CounterVec

	// SweepResultsTotal counts reconciliation sweep classifications.
	SweepResultsTotal *prometheus.CounterVec

	// GatewayErrorsTotal counts failed calls to the payment gateway, by operation.
	GatewayErrorsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		SettlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorcrm_settlements_total",
			Help: "Ledger entries created, by settlement channel.",
		}, []string{"channel"}),
		SweepResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorcrm_sweep_results_total",
			Help: "Reconciliation sweep outcomes per pending payment.",
		}, []string{"result"}),
		GatewayErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tutorcrm_gateway_errors_total",
			Help: "Failed payment gateway calls, by operation.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.SettlementsTotal, m.SweepResultsTotal, m.GatewayErrorsTotal)
	return m
}
