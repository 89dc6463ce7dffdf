package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var activityTable = jsonTable{name: "activity_events"}
var budgetAlertsTable = jsonTable{name: "budget_alerts"}

// InsertActivityEvent persists a projection of one Event Bus event.
func (s *Store) InsertActivityEvent(ctx context.Context, e *model.ActivityEvent) error {
	ts := e.CreatedAt.UTC().Format(rfc3339)
	return activityTable.upsert(ctx, s, e.ID, e, []string{"org_id", "agent_id", "type"}, []interface{}{e.OrgID, e.AgentID, e.Type}, ts, ts)
}

// ListActivityByOrg returns orgID's activity feed since the given RFC3339
// timestamp (empty for no lower bound), oldest first, capped at limit.
func (s *Store) ListActivityByOrg(ctx context.Context, orgID string, since string, limit int) ([]*model.ActivityEvent, error) {
	q := `SELECT data FROM activity_events WHERE org_id = ` + s.dialect.Placeholder(1)
	args := []interface{}{orgID}
	if since != "" {
		q += ` AND created_at >= ` + s.dialect.Placeholder(2)
		args = append(args, since)
	}
	q += ` ORDER BY created_at ASC`
	rows, err := s.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	all, err := decodeRows[model.ActivityEvent](rows)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// InsertBudgetAlert persists a budget warning or hard-stop notice.
func (s *Store) InsertBudgetAlert(ctx context.Context, a *model.BudgetAlert) error {
	ts := a.CreatedAt.UTC().Format(rfc3339)
	return budgetAlertsTable.upsert(ctx, s, a.ID, a, []string{"org_id", "agent_id"}, []interface{}{a.OrgID, a.AgentID}, ts, ts)
}

// ListBudgetAlertsByOrg returns orgID's budget alerts, most recent first.
func (s *Store) ListBudgetAlertsByOrg(ctx context.Context, orgID string) ([]*model.BudgetAlert, error) {
	items, err := budgetAlertsTable.listWhere(ctx, s, "org_id", orgID, "created_at DESC", func() interface{} { return &model.BudgetAlert{} })
	if err != nil {
		return nil, err
	}
	out := make([]*model.BudgetAlert, len(items))
	for i, it := range items {
		out[i] = it.(*model.BudgetAlert)
	}
	return out, nil
}

// FindBudgetAlert looks for an existing alert of kind/counter for orgID in
// period (agentID empty for org-level), used to make alert emission
// idempotent per period.
func (s *Store) FindBudgetAlert(ctx context.Context, orgID, agentID string, kind model.BudgetAlertKind, counter model.BudgetCounter, period string) (*model.BudgetAlert, error) {
	alerts, err := s.ListBudgetAlertsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		if a.AgentID == agentID && a.Kind == kind && a.Counter == counter && a.Period == period {
			return a, nil
		}
	}
	return nil, ErrNotFound
}
