package lending

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts submissions and their settlement.
type Metrics struct {
	submissions *prometheus.CounterVec
	settlements *prometheus.CounterVec
	waitSeconds *prometheus.HistogramVec
	pending     *prometheus.GaugeVec
}

// NewMetrics registers the lending collectors on reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diaspore_submissions_total",
		Help: "State-changing operations submitted, by outcome of the submission itself",
	}, []string{"backend", "operation", "status"})

	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diaspore_settlements_total",
		Help: "Submissions that reached a final state",
	}, []string{"backend", "operation", "status"})

	wait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "diaspore_settlement_wait_seconds",
		Help:    "Time from submission to settlement",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"backend", "operation"})

	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "diaspore_pending_submissions",
		Help: "Submissions waiting for settlement",
	}, []string{"backend"})

	if reg != nil {
		reg.MustRegister(submissions, settlements, wait, pending)
	}
	return &Metrics{
		submissions: submissions,
		settlements: settlements,
		waitSeconds: wait,
		pending:     pending,
	}
}

func (m *Metrics) submitted(kind BackendKind, op Operation, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.submissions.WithLabelValues(string(kind), string(op), status).Inc()
	if err == nil {
		m.pending.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) settled(kind BackendKind, op Operation, status string, took time.Duration) {
	m.settlements.WithLabelValues(string(kind), string(op), status).Inc()
	m.waitSeconds.WithLabelValues(string(kind), string(op)).Observe(took.Seconds())
	m.pending.WithLabelValues(string(kind)).Dec()
}
