package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var historyTable = jsonTable{name: "agent_state_history"}

// AppendStateTransition persists one StateTransition row for agentID at
// sequence seq. History rows are append-only.
func (s *Store) AppendStateTransition(ctx context.Context, agentID string, seq int, t *model.StateTransition) error {
	ts := t.Timestamp.UTC().Format(rfc3339)
	id := agentID + ":" + itoa(seq)
	return historyTable.upsert(ctx, s, id, t, []string{"agent_id", "seq"}, []interface{}{agentID, seq}, ts, ts)
}

// ListStateHistory returns agentID's transition history in order.
func (s *Store) ListStateHistory(ctx context.Context, agentID string) ([]*model.StateTransition, error) {
	items, err := historyTable.listWhere(ctx, s, "agent_id", agentID, "seq ASC", func() interface{} { return &model.StateTransition{} })
	if err != nil {
		return nil, err
	}
	out := make([]*model.StateTransition, len(items))
	for i, it := range items {
		out[i] = it.(*model.StateTransition)
	}
	return out, nil
}
