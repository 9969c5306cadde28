// Package auditmetrics exports audit pipeline outcomes as Prometheus metrics.
package auditmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	audit "github.com/kafeiih/go-opaudit"
)

// Collector implements audit.Observer.
type Collector struct {
	records *prometheus.CounterVec
	aborted *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// New creates a Collector and registers its metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "opaudit",
				Name:      "records_total",
				Help:      "Audit records handed to the sink.",
			},
			[]string{"audit_type"},
		),
		aborted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "opaudit",
				Name:      "aborted_total",
				Help:      "Audited calls that produced no records.",
			},
			[]string{"audit_type", "reason"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "opaudit",
				Name:      "latency_seconds",
				Help:      "Latency of audited calls.",
				Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"audit_type"},
		),
	}

	for _, col := range []prometheus.Collector{c.records, c.aborted, c.latency} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) Aborted(t audit.AuditType, reason audit.AbortReason) {
	c.aborted.WithLabelValues(string(t), string(reason)).Inc()
}

func (c *Collector) Persisted(t audit.AuditType, records int, latency time.Duration) {
	c.records.WithLabelValues(string(t)).Add(float64(records))
	c.latency.WithLabelValues(string(t)).Observe(latency.Seconds())
}
