package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var toolCallsTable = jsonTable{name: "tool_calls"}

// InsertToolCall appends a ToolCallRecord. Tool call records are
// append-only audit rows; there is no update path.
func (s *Store) InsertToolCall(ctx context.Context, t *model.ToolCallRecord) error {
	ts := t.CreatedAt.UTC().Format(rfc3339)
	return toolCallsTable.upsert(ctx, s, t.ID, t, []string{"org_id", "agent_id"}, []interface{}{t.OrgID, t.AgentID}, ts, ts)
}

// ListToolCallsByAgent returns agentID's recent tool call history, most
// recent first, capped at limit.
func (s *Store) ListToolCallsByAgent(ctx context.Context, agentID string, limit int) ([]*model.ToolCallRecord, error) {
	q := `SELECT data FROM tool_calls WHERE agent_id = ` + s.dialect.Placeholder(1) + ` ORDER BY created_at DESC`
	rows, err := s.Query(ctx, q, agentID)
	if err != nil {
		return nil, err
	}
	all, err := decodeRows[model.ToolCallRecord](rows)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListToolCallsByOrg returns tool call records for orgID since the given
// RFC3339 timestamp — the window the Budget Meter sums usage over.
func (s *Store) ListToolCallsByOrg(ctx context.Context, orgID string, since string) ([]*model.ToolCallRecord, error) {
	rows, err := s.Query(ctx,
		`SELECT data FROM tool_calls WHERE org_id = `+s.dialect.Placeholder(1)+` AND created_at >= `+s.dialect.Placeholder(2)+` ORDER BY created_at ASC`,
		orgID, since)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.ToolCallRecord](rows)
}
