// Package metrics exposes prometheus metrics for bridge operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geanlabs/gravity/types"
)

const namespace = "gravity"

// Operation names used as the op label.
const (
	OpValsetUpdate  = "valset_update"
	OpBatch         = "batch"
	OpLogicCall     = "logic_call"
	OpConfirm       = "confirm"
	OpOracleVote    = "oracle_vote"
	OpOracleProcess = "oracle_process"
	OpDeposit       = "deposit"
	OpPropose       = "propose"
)

// Collector records operation outcomes. Results are labelled with the error
// kind so idempotence guards stay apart from authorization failures.
type Collector struct {
	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	signedPower *prometheus.GaugeVec
	valsetNonce prometheus.Gauge
}

// NewCollector registers the bridge metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "bridge operations by result kind",
		}, []string{"op", "result"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_seconds",
			Help:      "time spent checking and applying an operation",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"op"}),
		signedPower: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_signed_power",
			Help:      "signed power of the last accepted operation",
		}, []string{"op"}),
		valsetNonce: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valset_nonce",
			Help:      "nonce of the confirmed validator set",
		}),
	}
}

// Observe records the outcome of op that started at start.
func (c *Collector) Observe(op string, start time.Time, err error) {
	c.operations.WithLabelValues(op, string(types.Classify(err))).Inc()
	c.durations.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SignedPower records the power carried by an accepted operation.
func (c *Collector) SignedPower(op string, power types.Power) {
	c.signedPower.WithLabelValues(op).Set(float64(power))
}

// SetValsetNonce records the confirmed validator set nonce.
func (c *Collector) SetValsetNonce(nonce uint64) {
	c.valsetNonce.Set(float64(nonce))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
