package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	retryDecisions *prom.CounterVec
	opDuration     *prom.HistogramVec
	refreshCycles  *prom.CounterVec
	reconnects     *prom.CounterVec
	status         *prom.GaugeVec
	attachOutcomes *prom.CounterVec
	tasks          *prom.CounterVec

	mu         sync.Mutex
	lastStatus [3]string
}

// NewPrometheusRecorder constructs and registers the gridlink metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		retryDecisions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gridlink",
			Name:      "rpc_poll_decisions_total",
			Help:      "Poll classification decisions by operation kind",
		}, []string{"operation", "decision"}),
		opDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "gridlink",
			Name:      "rpc_operation_duration_seconds",
			Help:      "Wall time of request/poll operations from submit to final decision",
			Buckets:   prom.DefBuckets,
		}, []string{"operation", "outcome"}),
		refreshCycles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gridlink",
			Name:      "refresh_cycles_total",
			Help:      "Refresh loop cycles by result",
		}, []string{"result"}),
		reconnects: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gridlink",
			Name:      "reconnects_total",
			Help:      "Channel (re)connection attempts",
		}, []string{"result"}),
		status: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "gridlink",
			Name:      "status",
			Help:      "Currently published status (1 for the active value)",
		}, []string{"dimension", "value"}),
		attachOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gridlink",
			Name:      "attach_outcomes_total",
			Help:      "Attach saga outcomes per target",
		}, []string{"outcome"}),
		tasks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gridlink",
			Name:      "tasks_total",
			Help:      "Background write tasks by kind and result",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(pr.retryDecisions, pr.opDuration, pr.refreshCycles, pr.reconnects, pr.status, pr.attachOutcomes, pr.tasks)
	return pr
}

func (p *PrometheusRecorder) IncRetryDecision(kind, decision string) {
	if p == nil {
		return
	}
	p.retryDecisions.WithLabelValues(kind, decision).Inc()
}

func (p *PrometheusRecorder) ObserveOperation(kind string, d time.Duration, outcome string) {
	if p == nil {
		return
	}
	p.opDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRefreshCycle(result CycleResult) {
	if p == nil {
		return
	}
	p.refreshCycles.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncReconnect(success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.reconnects.WithLabelValues(res).Inc()
}

// SetStatus moves the 1 of each status dimension to the new value.
func (p *PrometheusRecorder) SetStatus(setup, computing, network string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next := [3]string{setup, computing, network}
	for i, dim := range []string{"setup", "computing", "network"} {
		if p.lastStatus[i] != "" {
			p.status.WithLabelValues(dim, p.lastStatus[i]).Set(0)
		}
		p.status.WithLabelValues(dim, next[i]).Set(1)
	}
	p.lastStatus = next
}

func (p *PrometheusRecorder) IncAttachOutcome(outcome string) {
	if p == nil {
		return
	}
	p.attachOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncTask(kind, result string) {
	if p == nil {
		return
	}
	p.tasks.WithLabelValues(kind, result).Inc()
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
