package comm

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

func newTestObserver(t *testing.T) (*Observer, *store.Store) {
	t.Helper()
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, events.NewEventBus()), st
}

func TestObserveToolCallClassifiesInternalVsExternal(t *testing.T) {
	o, _ := newTestObserver(t)
	ctx := context.Background()

	o.RegisterAgent("agent-2", "support@acme.com")

	msgs, err := o.ObserveToolCall(ctx, "org-1", "agent-1", ToolCallInput{
		ToolID:  toolEmailSend,
		To:      []string{"support@acme.com", "customer@external.com"},
		Subject: "status update",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.Equal(t, model.DirectionInternal, msgs[0].Direction)
	require.Equal(t, "agent-2", msgs[0].ToAgentID)

	require.Equal(t, model.DirectionExternalOutbound, msgs[1].Direction)
	require.Equal(t, externalPrefix+"customer@external.com", msgs[1].ToAgentID)
}

func TestObserveToolCallIgnoresUnrelatedTools(t *testing.T) {
	o, _ := newTestObserver(t)
	ctx := context.Background()

	msgs, err := o.ObserveToolCall(ctx, "org-1", "agent-1", ToolCallInput{ToolID: "data.query"})
	require.NoError(t, err)
	require.Nil(t, msgs)
}

func TestRebuildDirectoryLoadsAgentEmails(t *testing.T) {
	o, st := newTestObserver(t)
	ctx := context.Background()

	agent := &model.ManagedAgent{
		ID: "agent-9", OrgID: "org-1",
		Config: model.AgentConfig{Email: "Agent9@Acme.com"},
	}
	require.NoError(t, st.UpsertAgent(ctx, agent))

	require.NoError(t, o.RebuildDirectory(ctx, "org-1"))

	id, ok := o.resolveAgent("agent9@acme.com")
	require.True(t, ok)
	require.Equal(t, "agent-9", id)
}

func TestUnregisterAgentRemovesFromDirectory(t *testing.T) {
	o, _ := newTestObserver(t)

	o.RegisterAgent("agent-3", "bot@acme.com")
	_, ok := o.resolveAgent("bot@acme.com")
	require.True(t, ok)

	o.UnregisterAgent("agent-3")
	_, ok = o.resolveAgent("bot@acme.com")
	require.False(t, ok)
}

func TestObserveToolCallAgentToAgentIsAlwaysInternal(t *testing.T) {
	o, _ := newTestObserver(t)
	ctx := context.Background()

	msgs, err := o.ObserveToolCall(ctx, "org-1", "agent-1", ToolCallInput{
		ToolID: toolMessageAgent, To: []string{"agent-2"}, Content: "ping",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, model.DirectionInternal, msgs[0].Direction)
	require.Equal(t, "agent-2", msgs[0].ToAgentID)
}

func TestObserveToolCallCheckTasksProducesNoMessage(t *testing.T) {
	o, _ := newTestObserver(t)
	ctx := context.Background()

	msgs, err := o.ObserveToolCall(ctx, "org-1", "agent-1", ToolCallInput{ToolID: toolCheckTasks})
	require.NoError(t, err)
	require.Nil(t, msgs)
}

func TestObserveToolCallClaimThenCompleteUpdatesSameMessage(t *testing.T) {
	o, _ := newTestObserver(t)
	ctx := context.Background()

	claimed, err := o.ObserveToolCall(ctx, "org-1", "agent-1", ToolCallInput{
		ToolID: toolClaimTask, TaskID: "task-1",
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "claimed", claimed[0].Status)
	require.NotNil(t, claimed[0].ClaimedAt)

	completed, err := o.ObserveToolCall(ctx, "org-1", "agent-1", ToolCallInput{
		ToolID: toolCompleteTask, TaskID: "task-1",
	})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, claimed[0].ID, completed[0].ID)
	require.Equal(t, "completed", completed[0].Status)
	require.NotNil(t, completed[0].CompletedAt)
}

func TestGetTopologyAggregatesEdges(t *testing.T) {
	o, _ := newTestObserver(t)
	ctx := context.Background()

	_, err := o.ObserveToolCall(ctx, "org-1", "agent-1", ToolCallInput{
		ToolID: toolEmailSend, To: []string{"ext:customer"},
	})
	require.NoError(t, err)
	_, err = o.ObserveToolCall(ctx, "org-1", "agent-1", ToolCallInput{
		ToolID: toolEmailSend, To: []string{"ext:customer"},
	})
	require.NoError(t, err)

	topo, err := o.GetTopology(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, topo.Edges, 1)
	require.Equal(t, 2, topo.Edges[0].Count)
}
