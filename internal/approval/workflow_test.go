package approval

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/catalog"
	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

func newTestWorkflow(t *testing.T) (*Workflow, *store.Store) {
	t.Helper()
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, catalog.New(), events.NewEventBus()), st
}

func TestRequestDefaultsToThirtyMinuteTimeout(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	req, err := w.Request(ctx, "org-1", "agent-1", "support-bot", "data.delete", "cleanup", nil, nil)
	require.NoError(t, err)
	require.Equal(t, model.ApprovalPending, req.Status)
	require.WithinDuration(t, time.Now().Add(30*time.Minute), req.ExpiresAt, 5*time.Second)
	require.Equal(t, model.RiskCritical, req.RiskLevel)
}

func TestDecideOnlyValidOnPending(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	req, err := w.Request(ctx, "org-1", "agent-1", "support-bot", "data.delete", "cleanup", nil, nil)
	require.NoError(t, err)

	decided, err := w.Decide(ctx, req.ID, true, "admin@acme.com", "looks fine")
	require.NoError(t, err)
	require.Equal(t, model.ApprovalApproved, decided.Status)

	_, err = w.Decide(ctx, req.ID, false, "admin@acme.com", "too late")
	require.Error(t, err)
}

func TestSweepExpiredMarksExpired(t *testing.T) {
	w, st := newTestWorkflow(t)
	ctx := context.Background()

	req, err := w.Request(ctx, "org-1", "agent-1", "support-bot", "data.delete", "cleanup", nil, nil)
	require.NoError(t, err)

	req.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, st.UpsertApproval(ctx, req))

	swept, err := w.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	got, err := st.GetApproval(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.ApprovalExpired, got.Status)
}

func TestSweepExpiredAutoDeniesWhenPolicySays(t *testing.T) {
	w, st := newTestWorkflow(t)
	ctx := context.Background()

	policy := &model.ApprovalPolicy{
		ID: uuid.NewString(), OrgID: "org-1", Name: "strict",
		ToolIDPatterns: []string{"data.*"}, TimeoutMinutes: 5, AutoDenyOnTimeout: true, Priority: 10,
	}
	require.NoError(t, st.UpsertApprovalPolicy(ctx, policy))

	req, err := w.Request(ctx, "org-1", "agent-1", "support-bot", "data.delete", "cleanup", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, req.ExpiresAt.Sub(req.CreatedAt).Round(time.Minute))

	req.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, st.UpsertApproval(ctx, req))

	swept, err := w.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	got, err := st.GetApproval(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, model.ApprovalAutoDenied, got.Status)
}

func TestGetPendingAndHistory(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	req, err := w.Request(ctx, "org-1", "agent-1", "support-bot", "data.delete", "cleanup", nil, nil)
	require.NoError(t, err)

	pending, err := w.GetPending(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = w.Decide(ctx, req.ID, true, "admin@acme.com", "ok")
	require.NoError(t, err)

	history, err := w.GetHistory(ctx, "agent-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}
