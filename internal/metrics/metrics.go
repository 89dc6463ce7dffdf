// Package metrics wraps the Prometheus collectors the Budget Meter and
// Lifecycle Manager publish to. Grounded on the teacher's
// internal/escrow/metrics.go (promauto-registered CounterVec/GaugeVec/
// HistogramVec bundled in one struct, record-style helper methods),
// generalized from entropy/tri-factor/escrow collectors to agent lifecycle
// and budget observability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector this control plane publishes.
type Metrics struct {
	ToolCallsTotal      *prometheus.CounterVec
	TokensUsedTotal     *prometheus.CounterVec
	CostUsdTotal        *prometheus.CounterVec
	BudgetAlertsTotal   *prometheus.CounterVec
	StateTransitions    *prometheus.CounterVec
	AgentsByState       *prometheus.GaugeVec
	HealthCheckDuration prometheus.Histogram
	ApprovalsPending    prometheus.Gauge
}

// New creates and registers every collector against the default registry.
func New() *Metrics {
	return &Metrics{
		ToolCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_tool_calls_total",
			Help: "Tool calls observed by the permission engine, labeled by outcome.",
		}, []string{"org_id", "allowed"}),
		TokensUsedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_tokens_used_total",
			Help: "Tokens consumed by agent tool calls.",
		}, []string{"org_id", "agent_id"}),
		CostUsdTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_cost_usd_total",
			Help: "USD cost accrued by agent tool calls.",
		}, []string{"org_id", "agent_id"}),
		BudgetAlertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_budget_alerts_total",
			Help: "Budget warning/exceeded alerts emitted, labeled by kind and counter.",
		}, []string{"kind", "counter"}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "workforce_agent_state_transitions_total",
			Help: "Agent lifecycle state transitions, labeled by from/to state.",
		}, []string{"from", "to"}),
		AgentsByState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workforce_agents_by_state",
			Help: "Current count of managed agents in each lifecycle state.",
		}, []string{"org_id", "state"}),
		HealthCheckDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "workforce_health_check_duration_seconds",
			Help:    "Duration of Health Loop probes.",
			Buckets: prometheus.DefBuckets,
		}),
		ApprovalsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "workforce_approvals_pending",
			Help: "Current count of pending approval requests.",
		}),
	}
}

// RecordToolCall records one permission-engine decision.
func (m *Metrics) RecordToolCall(orgID string, allowed bool) {
	m.ToolCallsTotal.WithLabelValues(orgID, boolLabel(allowed)).Inc()
}

// RecordUsage records tokens/cost consumed by one tool call.
func (m *Metrics) RecordUsage(orgID, agentID string, tokens int64, costUSD float64) {
	if tokens > 0 {
		m.TokensUsedTotal.WithLabelValues(orgID, agentID).Add(float64(tokens))
	}
	if costUSD > 0 {
		m.CostUsdTotal.WithLabelValues(orgID, agentID).Add(costUSD)
	}
}

// RecordBudgetAlert records a budget_warning/budget_exceeded emission.
func (m *Metrics) RecordBudgetAlert(kind, counter string) {
	m.BudgetAlertsTotal.WithLabelValues(kind, counter).Inc()
}

// RecordStateTransition records one lifecycle state change.
func (m *Metrics) RecordStateTransition(from, to string) {
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// SetAgentsByState reports the current agent count for orgID/state.
func (m *Metrics) SetAgentsByState(orgID, state string, count float64) {
	m.AgentsByState.WithLabelValues(orgID, state).Set(count)
}

// SetApprovalsPending reports the current pending-approval count.
func (m *Metrics) SetApprovalsPending(count float64) {
	m.ApprovalsPending.Set(count)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Handler exposes the default registry on an HTTP handler for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
