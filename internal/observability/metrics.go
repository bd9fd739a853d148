package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects orchestrator counters.
//
// Tracked:
//   - Triggers processed by type (message|alarm|ambient) and outcome
//   - Tool invocations by name and status
//   - Reminder fires and missed-window expiries
//   - Engine session aborts (interrupt preemption)
type Metrics struct {
	// TriggerCounter counts reasoning turns. Labels: trigger, status.
	TriggerCounter *prometheus.CounterVec

	// ToolCallCounter counts MCP tool invocations. Labels: tool, status.
	ToolCallCounter *prometheus.CounterVec

	// ReminderCounter counts scheduler outcomes. Labels: outcome (fired|missed).
	ReminderCounter *prometheus.CounterVec

	// EngineAborts counts preemption aborts. Labels: result (ok|failed).
	EngineAborts *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the orchestrator metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		TriggerCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outie_triggers_total",
			Help: "Reasoning turns by trigger type and outcome.",
		}, []string{"trigger", "status"}),
		ToolCallCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outie_tool_calls_total",
			Help: "MCP tool invocations by tool name and status.",
		}, []string{"tool", "status"}),
		ReminderCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outie_reminders_total",
			Help: "Reminder fires and missed-window expiries.",
		}, []string{"outcome"}),
		EngineAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outie_engine_aborts_total",
			Help: "Engine session aborts issued on preemption.",
		}, []string{"result"}),
		registry: registry,
	}
	registry.MustRegister(m.TriggerCounter, m.ToolCallCounter, m.ReminderCounter, m.EngineAborts)
	return m
}

// Registry returns the prometheus registry holding the orchestrator metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
