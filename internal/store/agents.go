package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var agentsTable = jsonTable{name: "managed_agents"}

// UpsertAgent inserts or replaces a ManagedAgent row.
func (s *Store) UpsertAgent(ctx context.Context, a *model.ManagedAgent) error {
	return agentsTable.upsert(ctx, s, a.ID, a,
		[]string{"org_id", "state", "version"}, []interface{}{a.OrgID, string(a.State), a.Version},
		a.CreatedAt.UTC().Format(rfc3339), a.UpdatedAt.UTC().Format(rfc3339))
}

// GetAgent fetches one ManagedAgent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*model.ManagedAgent, error) {
	var a model.ManagedAgent
	if err := agentsTable.getByID(ctx, s, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAgentsByOrg returns every ManagedAgent scoped to orgID.
func (s *Store) ListAgentsByOrg(ctx context.Context, orgID string) ([]*model.ManagedAgent, error) {
	items, err := agentsTable.listWhere(ctx, s, "org_id", orgID, "created_at ASC", func() interface{} { return &model.ManagedAgent{} })
	if err != nil {
		return nil, err
	}
	out := make([]*model.ManagedAgent, len(items))
	for i, it := range items {
		out[i] = it.(*model.ManagedAgent)
	}
	return out, nil
}

// DeleteAgent removes a ManagedAgent row only; rows in other tables that
// reference the agent (schedule, tasks, clock records, approvals, state
// history) are left in place.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	return agentsTable.delete(ctx, s, id)
}
