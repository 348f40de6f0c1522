package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics owned by the query pipeline. All
// observe methods are nil-safe so a pipeline without metrics costs nothing.
type Metrics struct {
	// queriesTotal counts completed queries, partitioned by gate status:
	// "pass" or the gate's block reason.
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records the wall-clock duration of each completed
	// query, embed to audit.
	queryDurationSeconds prometheus.Histogram

	// ungroundedAnswersTotal counts generated answers the shield rejected.
	ungroundedAnswersTotal prometheus.Counter
}

// NewMetrics registers the query metrics against reg. promauto.With(reg)
// registers into the provided registry rather than the global default, which
// keeps unit tests hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbguard",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of queries completed, partitioned by gate status.",
		}, []string{"gate_status"}),

		queryDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kbguard",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of completed queries.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		ungroundedAnswersTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbguard",
			Subsystem: "query",
			Name:      "ungrounded_answers_total",
			Help:      "Total number of generated answers rejected by the hallucination shield.",
		}),
	}
}

func (m *Metrics) observeQuery(gateStatus string, d time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(gateStatus).Inc()
	m.queryDurationSeconds.Observe(d.Seconds())
}

func (m *Metrics) observeUngrounded() {
	if m == nil {
		return
	}
	m.ungroundedAnswersTotal.Inc()
}
