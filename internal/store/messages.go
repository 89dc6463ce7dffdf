package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var messagesTable = jsonTable{name: "agent_messages"}

// UpsertMessage inserts or replaces an AgentMessage row.
func (s *Store) UpsertMessage(ctx context.Context, m *model.AgentMessage) error {
	return messagesTable.upsert(ctx, s, m.ID, m,
		[]string{"org_id", "from_agent_id", "to_agent_id", "direction"},
		[]interface{}{m.OrgID, m.FromAgentID, m.ToAgentID, string(m.Direction)},
		m.CreatedAt.UTC().Format(rfc3339), m.UpdatedAt.UTC().Format(rfc3339))
}

// ListMessagesByOrg returns every AgentMessage scoped to orgID observed at
// or after since, oldest first — the feed the Communication Observer
// reads (capped by limit) for its topology aggregation.
func (s *Store) ListMessagesByOrg(ctx context.Context, orgID string, since string, limit int) ([]*model.AgentMessage, error) {
	q := `SELECT data FROM agent_messages WHERE org_id = ` + s.dialect.Placeholder(1)
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
	all, err := decodeRows[model.AgentMessage](rows)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// ListMessagesByAgent returns the messages involving agentID as either
// sender or recipient, oldest first.
func (s *Store) ListMessagesByAgent(ctx context.Context, agentID string) ([]*model.AgentMessage, error) {
	rows, err := s.Query(ctx,
		`SELECT data FROM agent_messages WHERE from_agent_id = `+s.dialect.Placeholder(1)+` OR to_agent_id = `+s.dialect.Placeholder(2)+
			` ORDER BY created_at ASC`,
		agentID, agentID)
	if err != nil {
		return nil, err
	}
	return decodeRows[model.AgentMessage](rows)
}

// FindMessageByTaskID looks for the most recent AgentMessage involving
// agentID whose metadata.taskId matches taskID — used by the Communication
// Observer's claim_task/complete_task/submit_result handling to update the
// task-handoff message those calls progress, rather than creating a new
// one. Returns ErrNotFound if none matches.
func (s *Store) FindMessageByTaskID(ctx context.Context, agentID, taskID string) (*model.AgentMessage, error) {
	msgs, err := s.ListMessagesByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if id, ok := msgs[i].Metadata["taskId"]; ok {
			if str, ok := id.(string); ok && str == taskID {
				return msgs[i], nil
			}
		}
	}
	return nil, ErrNotFound
}
