package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	metricLogsObserved = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "token_ledger_logs_observed_total", Help: "Logs forwarded by the watcher"},
		[]string{"source"},
	)
	metricDispatchOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "token_ledger_dispatch_total", Help: "Dispatch outcomes by kind"},
		[]string{"outcome"},
	)
)

const (
	outcomeApplied   = "applied"
	outcomeResumed   = "resumed"
	outcomeDuplicate = "duplicate"
	outcomePoisoned  = "poisoned"
	outcomeFailed    = "failed"
)

func init() {
	prometheus.MustRegister(metricLogsObserved, metricDispatchOutcome)
}
