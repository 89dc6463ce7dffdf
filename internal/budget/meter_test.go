package budget

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

func newTestMeter(t *testing.T) (*Meter, *events.EventBus) {
	t.Helper()
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	bus := events.NewEventBus()
	return New(st, bus, nil), bus
}

func TestRecordToolCallAccumulatesUsage(t *testing.T) {
	m, _ := newTestMeter(t)
	ctx := context.Background()

	usage := &model.AgentUsage{TokenBudgetMonthly: 1000, CostBudgetMonthly: 10}
	tokenExceeded, costExceeded, err := m.RecordToolCall(ctx, "org-1", "agent-1", "data.query", usage, true, false, ToolCallReport{
		TokensUsed: 100, CostUsd: 1,
	})
	require.NoError(t, err)
	require.False(t, tokenExceeded)
	require.False(t, costExceeded)
	require.Equal(t, int64(100), usage.TokensToday)
	require.Equal(t, int64(1), usage.ToolCallsToday)
}

func TestRecordToolCallRaisesWarningAtEightyPercent(t *testing.T) {
	sub := events.NewEventBus()
	ch := sub.Subscribe(string(model.AlertBudgetWarning))

	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	m := New(st, sub, nil)

	usage := &model.AgentUsage{TokenBudgetMonthly: 100}
	_, _, err = m.RecordToolCall(context.Background(), "org-1", "agent-1", "data.query", usage, true, false, ToolCallReport{TokensUsed: 85})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		require.Equal(t, string(model.AlertBudgetWarning), ev.Type)
	default:
		t.Fatal("expected a budget_warning event")
	}
}

func TestRecordToolCallExceedsHardStopsOnce(t *testing.T) {
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	m := New(st, events.NewEventBus(), nil)
	ctx := context.Background()

	usage := &model.AgentUsage{TokenBudgetMonthly: 100}
	tokenExceeded, _, err := m.RecordToolCall(ctx, "org-1", "agent-1", "data.query", usage, true, false, ToolCallReport{TokensUsed: 120})
	require.NoError(t, err)
	require.True(t, tokenExceeded)

	// A second call past the threshold in the same period must not raise a
	// duplicate alert row — FindBudgetAlert dedupes (agentId, kind, counter, period).
	tokenExceeded, _, err = m.RecordToolCall(ctx, "org-1", "agent-1", "data.query", usage, true, false, ToolCallReport{TokensUsed: 10})
	require.NoError(t, err)
	require.True(t, tokenExceeded)
}

func TestNewWithWarningThresholdFallsBackWhenOutOfRange(t *testing.T) {
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := NewWithWarningThreshold(st, events.NewEventBus(), nil, 0)
	require.Equal(t, warningThresholdPct, m.warningThresholdPct)

	m = NewWithWarningThreshold(st, events.NewEventBus(), nil, 0.5)
	require.Equal(t, 0.5, m.warningThresholdPct)
}

func TestEnforceHardStopOnlyInvokedWhenExceeded(t *testing.T) {
	stopper := &fakeStopper{}
	require.NoError(t, EnforceHardStop(context.Background(), stopper, "agent-1", false, false))
	require.False(t, stopper.called)

	require.NoError(t, EnforceHardStop(context.Background(), stopper, "agent-1", true, false))
	require.True(t, stopper.called)
}

type fakeStopper struct {
	called bool
}

func (f *fakeStopper) Stop(ctx context.Context, agentID, triggeredBy, reason string) error {
	f.called = true
	return nil
}
