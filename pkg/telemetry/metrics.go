package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	RPCRequests       *prometheus.CounterVec
	TaskTransitions   *prometheus.CounterVec
	ActiveTasks       *prometheus.GaugeVec
	ActiveStreams     prometheus.Gauge
	AgentCalls        *prometheus.CounterVec
	AgentCallDuration *prometheus.HistogramVec
	Dispatches        *prometheus.CounterVec
	ToolCalls         *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
}{
	RPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caremesh",
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC requests by agent, method and status.",
	}, []string{"agent", "method", "status"}),

	TaskTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caremesh",
		Name:      "task_transitions_total",
		Help:      "Task state transitions by agent and target state.",
	}, []string{"agent", "state"}),

	ActiveTasks: promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "caremesh",
		Name:      "active_tasks",
		Help:      "Tasks currently executing, by agent.",
	}, []string{"agent"}),

	ActiveStreams: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "caremesh",
		Name:      "active_streams",
		Help:      "Number of open message/send_stream consumers.",
	}),

	AgentCalls: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caremesh",
		Name:      "agent_calls_total",
		Help:      "Router calls to specialist agents by agent and outcome.",
	}, []string{"agent", "status"}),

	AgentCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "caremesh",
		Name:      "agent_call_duration_seconds",
		Help:      "Duration of router calls to specialist agents.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"agent"}),

	Dispatches: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caremesh",
		Name:      "dispatches_total",
		Help:      "Routed requests by outcome (complete, partial, all_failed, canceled).",
	}, []string{"outcome"}),

	ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caremesh",
		Name:      "tool_calls_total",
		Help:      "Record backend calls by operation and status.",
	}, []string{"operation", "status"}),

	ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "caremesh",
		Name:      "tool_duration_seconds",
		Help:      "Record backend call duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"}),

	ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "caremesh",
		Name:      "errors_total",
		Help:      "Total errors by component.",
	}, []string{"component"}),
}
