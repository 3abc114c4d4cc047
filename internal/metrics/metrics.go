// Package metrics records treasury operational metrics twice over: into
// prometheus collectors on the default registerer for scraping, and
// into an in-process aggregate that backs the metrics RPC snapshot.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for operation counters.
const (
	OutcomeOK                   = "ok"
	OutcomePaused               = "paused"
	OutcomeUnauthorized         = "unauthorized"
	OutcomeZeroAmount           = "zero_amount"
	OutcomeInsufficientReserves = "insufficient_reserves"
	OutcomeZeroAddress          = "zero_address"
	OutcomeUnknownAsset         = "unknown_asset"
	OutcomeTransferFailed       = "transfer_failed"
	OutcomeInternal             = "internal"
)

var (
	registerOnce sync.Once

	operationsTotal  *prometheus.CounterVec
	operationSeconds *prometheus.HistogramVec
	eventsTotal      *prometheus.CounterVec
	reserveGauge     *prometheus.GaugeVec
	rpcRequestsTotal *prometheus.CounterVec
)

func register() {
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_operations_total",
		Help: "Treasury operations by name and outcome.",
	}, []string{"op", "outcome"})
	operationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "treasury_operation_duration_seconds",
		Help:    "Treasury operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_events_total",
		Help: "Journal events appended, by type.",
	}, []string{"type"})
	reserveGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "treasury_reserves",
		Help: "Tracked reserve per asset, in base units. Approximate for large values.",
	}, []string{"asset"})
	rpcRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_rpc_requests_total",
		Help: "RPC requests by method and status.",
	}, []string{"method", "status"})

	prometheus.MustRegister(operationsTotal, operationSeconds, eventsTotal, reserveGauge, rpcRequestsTotal)
}

// OperationStat aggregates one operation's history for the snapshot RPC.
type OperationStat struct {
	Count         int   `json:"count"`
	Errors        int   `json:"errors"`
	AvgLatencyMs  int64 `json:"avg_latency_ms"`
	MaxLatencyMs  int64 `json:"max_latency_ms"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}

// Recorder is the write side handed to the app and RPC layers.
type Recorder struct {
	mu       sync.Mutex
	ops      map[string]*opAggregate
	outcomes map[string]int
}

type opAggregate struct {
	count   int
	errors  int
	totalMs int64
	maxMs   int64
	lastMs  int64
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the process-wide recorder, registering the prometheus
// collectors on first use.
func Default() *Recorder {
	registerOnce.Do(register)
	defaultOnce.Do(func() {
		defaultRecorder = &Recorder{
			ops:      make(map[string]*opAggregate),
			outcomes: make(map[string]int),
		}
	})
	return defaultRecorder
}

// OperationObserved records one completed operation.
func (r *Recorder) OperationObserved(op, outcome string, elapsed time.Duration) {
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationSeconds.WithLabelValues(op).Observe(elapsed.Seconds())

	ms := elapsed.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.ops[op]
	if !ok {
		agg = &opAggregate{}
		r.ops[op] = agg
	}
	agg.count++
	if outcome != OutcomeOK {
		agg.errors++
		r.outcomes[outcome]++
	}
	agg.totalMs += ms
	agg.lastMs = ms
	if ms > agg.maxMs {
		agg.maxMs = ms
	}
}

// EventAppended records a journal append.
func (r *Recorder) EventAppended(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

// ReserveSet publishes the current reserve for an asset.
func (r *Recorder) ReserveSet(asset string, value float64) {
	reserveGauge.WithLabelValues(asset).Set(value)
}

// RPCServed records one RPC response.
func (r *Recorder) RPCServed(method, status string) {
	rpcRequestsTotal.WithLabelValues(method, status).Inc()
}

// OperationStats returns the aggregate per operation.
func (r *Recorder) OperationStats() map[string]OperationStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationStat, len(r.ops))
	for op, agg := range r.ops {
		stat := OperationStat{
			Count:         agg.count,
			Errors:        agg.errors,
			MaxLatencyMs:  agg.maxMs,
			LastLatencyMs: agg.lastMs,
		}
		if agg.count > 0 {
			stat.AvgLatencyMs = agg.totalMs / int64(agg.count)
		}
		out[op] = stat
	}
	return out
}

// ErrorCounters returns non-ok outcome counts.
func (r *Recorder) ErrorCounters() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.outcomes))
	for outcome, n := range r.outcomes {
		out[outcome] = n
	}
	return out
}
