// Package metrics wraps Prometheus instrumentation for the cache server
// behind a small sink interface, so the hot path never pays for metric
// updates when a caller chooses not to wire a registry.
//
// This mirrors the optional-metrics design used elsewhere in this
// codebase's cache ancestry: a no-op sink by default, a Prometheus-backed
// one only when the caller opts in.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the instrumentation surface every long-lived component reports
// through. Implementations must be safe for concurrent use.
type Sink interface {
	IncOp(op string, shard int)
	SetKeys(shard int, count int)
	IncReaperEvictions(count int)
	SetReplicatorLag(replica string, shard int, lag int)
	IncReplicatorBatches(replica string)
	IncReplicatorErrors(replica string)
}

type noop struct{}

func (noop) IncOp(string, int)                {}
func (noop) SetKeys(int, int)                 {}
func (noop) IncReaperEvictions(int)           {}
func (noop) SetReplicatorLag(string, int, int) {}
func (noop) IncReplicatorBatches(string)      {}
func (noop) IncReplicatorErrors(string)       {}

// Noop is a Sink that discards every observation.
var Noop Sink = noop{}

// Prom is a Prometheus-backed Sink. Construct with New.
type Prom struct {
	ops               *prometheus.CounterVec
	keys              *prometheus.GaugeVec
	reaperEvictions   prometheus.Counter
	replicatorLag     *prometheus.GaugeVec
	replicatorBatches *prometheus.CounterVec
	replicatorErrors  *prometheus.CounterVec
}

// New creates a Prom sink and registers its collectors against reg.
// reg must not be nil.
func New(reg *prometheus.Registry) *Prom {
	p := &Prom{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ssache",
			Name:      "ops_total",
			Help:      "Number of store operations processed, by verb and shard.",
		}, []string{"op", "shard"}),
		keys: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ssache",
			Name:      "keys",
			Help:      "Number of live keys per shard.",
		}, []string{"shard"}),
		reaperEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ssache",
			Name:      "reaper_evictions_total",
			Help:      "Number of entries removed by the expiration reaper.",
		}),
		replicatorLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ssache",
			Name:      "replicator_lag",
			Help:      "Unacknowledged log ops per replica and shard.",
		}, []string{"replica", "shard"}),
		replicatorBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ssache",
			Name:      "replicator_batches_total",
			Help:      "Number of batches successfully sent to a replica.",
		}, []string{"replica"}),
		replicatorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ssache",
			Name:      "replicator_errors_total",
			Help:      "Number of failed batch transmissions to a replica.",
		}, []string{"replica"}),
	}
	reg.MustRegister(p.ops, p.keys, p.reaperEvictions, p.replicatorLag,
		p.replicatorBatches, p.replicatorErrors)
	return p
}

func (p *Prom) IncOp(op string, shard int) {
	p.ops.WithLabelValues(op, shardLabel(shard)).Inc()
}

func (p *Prom) SetKeys(shard int, count int) {
	p.keys.WithLabelValues(shardLabel(shard)).Set(float64(count))
}

func (p *Prom) IncReaperEvictions(count int) {
	p.reaperEvictions.Add(float64(count))
}

func (p *Prom) SetReplicatorLag(replica string, shard int, lag int) {
	p.replicatorLag.WithLabelValues(replica, shardLabel(shard)).Set(float64(lag))
}

func (p *Prom) IncReplicatorBatches(replica string) {
	p.replicatorBatches.WithLabelValues(replica).Inc()
}

func (p *Prom) IncReplicatorErrors(replica string) {
	p.replicatorErrors.WithLabelValues(replica).Inc()
}

func shardLabel(shard int) string {
	return strconv.Itoa(shard)
}
