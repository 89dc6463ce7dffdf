package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// New registers every collector against the default Prometheus registry, so
// (matching the teacher's own promauto-per-process assumption) only one
// Metrics instance may exist per test binary — every case below shares the
// single instance created here instead of calling New() again.
func TestMetrics(t *testing.T) {
	m := New()

	t.Run("RecordToolCall increments the labeled counter", func(t *testing.T) {
		m.RecordToolCall("org-1", true)
		m.RecordToolCall("org-1", false)
		m.RecordToolCall("org-1", true)

		require.Equal(t, float64(2), testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("org-1", "true")))
		require.Equal(t, float64(1), testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("org-1", "false")))
	})

	t.Run("RecordUsage skips zero deltas", func(t *testing.T) {
		m.RecordUsage("org-2", "agent-1", 0, 0)
		require.Equal(t, float64(0), testutil.ToFloat64(m.TokensUsedTotal.WithLabelValues("org-2", "agent-1")))

		m.RecordUsage("org-2", "agent-1", 50, 1.5)
		require.Equal(t, float64(50), testutil.ToFloat64(m.TokensUsedTotal.WithLabelValues("org-2", "agent-1")))
		require.Equal(t, 1.5, testutil.ToFloat64(m.CostUsdTotal.WithLabelValues("org-2", "agent-1")))
	})

	t.Run("SetAgentsByState overwrites rather than accumulates", func(t *testing.T) {
		m.SetAgentsByState("org-3", "running", 3)
		m.SetAgentsByState("org-3", "running", 5)

		require.Equal(t, float64(5), testutil.ToFloat64(m.AgentsByState.WithLabelValues("org-3", "running")))
	})

	t.Run("RecordBudgetAlert and SetApprovalsPending", func(t *testing.T) {
		m.RecordBudgetAlert("budget_warning", "tokens")
		require.Equal(t, float64(1), testutil.ToFloat64(m.BudgetAlertsTotal.WithLabelValues("budget_warning", "tokens")))

		m.SetApprovalsPending(4)
		require.Equal(t, float64(4), testutil.ToFloat64(m.ApprovalsPending))
	})
}
