package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOrganizationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	org := &model.Organization{
		ID:        uuid.NewString(),
		Name:      "Acme Robotics",
		Slug:      "acme-robotics",
		Plan:      model.PlanTeam,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.UpsertOrganization(ctx, org))

	got, err := s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, org.Slug, got.Slug)

	bySlug, err := s.GetOrganizationBySlug(ctx, org.Slug)
	require.NoError(t, err)
	require.Equal(t, org.ID, bySlug.ID)

	org.Plan = model.PlanEnterprise
	require.NoError(t, s.UpsertOrganization(ctx, org))
	got2, err := s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	require.Equal(t, model.PlanEnterprise, got2.Plan)

	require.NoError(t, s.DeleteOrganization(ctx, org.ID))
	_, err = s.GetOrganization(ctx, org.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAgentRoundTripAndListByOrg(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	orgID := uuid.NewString()

	a := &model.ManagedAgent{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Config:    model.AgentConfig{Name: "support-bot"},
		State:     model.StateProvisioning,
		Version:   1,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, s.UpsertAgent(ctx, a))

	list, err := s.ListAgentsByOrg(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, a.ID, list[0].ID)

	require.NoError(t, s.DeleteAgent(ctx, a.ID))
	list2, err := s.ListAgentsByOrg(ctx, orgID)
	require.NoError(t, err)
	require.Empty(t, list2)
}

func TestTaskQueueOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agentID := uuid.NewString()
	orgID := uuid.NewString()

	base := time.Now()
	low := &model.QueuedTask{ID: uuid.NewString(), AgentID: agentID, OrgID: orgID, Priority: model.PriorityLow, Status: model.TaskQueued, CreatedAt: base}
	urgentLater := &model.QueuedTask{ID: uuid.NewString(), AgentID: agentID, OrgID: orgID, Priority: model.PriorityUrgent, Status: model.TaskQueued, CreatedAt: base.Add(time.Minute)}
	urgentEarlier := &model.QueuedTask{ID: uuid.NewString(), AgentID: agentID, OrgID: orgID, Priority: model.PriorityUrgent, Status: model.TaskQueued, CreatedAt: base.Add(-time.Minute)}

	for _, task := range []*model.QueuedTask{low, urgentLater, urgentEarlier} {
		require.NoError(t, s.UpsertTask(ctx, task))
	}

	ordered, err := s.ListQueuedTasksByAgent(ctx, agentID)
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	require.Equal(t, urgentEarlier.ID, ordered[0].ID)
	require.Equal(t, urgentLater.ID, ordered[1].ID)
	require.Equal(t, low.ID, ordered[2].ID)
}

func TestApprovalPendingAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agentID := uuid.NewString()
	orgID := uuid.NewString()

	pending := &model.ApprovalRequest{
		ID: uuid.NewString(), AgentID: agentID, OrgID: orgID,
		Status: model.ApprovalPending, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	approved := &model.ApprovalRequest{
		ID: uuid.NewString(), AgentID: agentID, OrgID: orgID,
		Status: model.ApprovalApproved, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.UpsertApproval(ctx, pending))
	require.NoError(t, s.UpsertApproval(ctx, approved))

	pendingList, err := s.ListPendingApprovals(ctx, "")
	require.NoError(t, err)
	require.Len(t, pendingList, 1)
	require.Equal(t, pending.ID, pendingList[0].ID)

	history, err := s.ListApprovalHistory(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, approved.ID, history[0].ID)
}

func TestClockStatusTracksMostRecentEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	agentID := uuid.NewString()
	orgID := uuid.NewString()

	status, err := s.CurrentClockStatus(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, model.ClockStatusNoSched, status)

	in := &model.ClockRecord{ID: uuid.NewString(), AgentID: agentID, OrgID: orgID, Type: model.ClockIn, ActualAt: time.Now()}
	require.NoError(t, s.UpsertClockRecord(ctx, in))
	status, err = s.CurrentClockStatus(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, model.ClockStatusIn, status)

	out := &model.ClockRecord{ID: uuid.NewString(), AgentID: agentID, OrgID: orgID, Type: model.ClockOut, ActualAt: time.Now().Add(time.Minute)}
	require.NoError(t, s.UpsertClockRecord(ctx, out))
	status, err = s.CurrentClockStatus(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, model.ClockStatusOut, status)
}

func TestExtTableRegistrationGatesRawMutations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	full, err := s.RegisterExtTable("widgets", `CREATE TABLE IF NOT EXISTS ext_widgets (id TEXT PRIMARY KEY, label TEXT)`)
	require.NoError(t, err)
	require.Equal(t, "ext_widgets", full)

	_, err = s.Execute(ctx, `INSERT INTO ext_widgets (id, label) VALUES (?, ?)`, "1", "gizmo")
	require.NoError(t, err)

	_, err = s.Execute(ctx, `INSERT INTO organizations (id, slug, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`, "x", "x", []byte("{}"), "x", "x")
	require.Error(t, err)
}
