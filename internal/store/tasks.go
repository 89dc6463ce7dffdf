package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var tasksTable = jsonTable{name: "task_queue"}

// UpsertTask inserts or replaces a QueuedTask row.
func (s *Store) UpsertTask(ctx context.Context, t *model.QueuedTask) error {
	now := nowString()
	return tasksTable.upsert(ctx, s, t.ID, t,
		[]string{"agent_id", "org_id", "status", "priority_rank"},
		[]interface{}{t.AgentID, t.OrgID, string(t.Status), t.Priority.Rank()},
		t.CreatedAt.UTC().Format(rfc3339), now)
}

// GetTask fetches one QueuedTask by id.
func (s *Store) GetTask(ctx context.Context, id string) (*model.QueuedTask, error) {
	var t model.QueuedTask
	if err := tasksTable.getByID(ctx, s, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListQueuedTasksByAgent returns agentID's queued tasks ordered
// priority DESC, createdAt ASC — the scheduler's dispatch order.
func (s *Store) ListQueuedTasksByAgent(ctx context.Context, agentID string) ([]*model.QueuedTask, error) {
	rows, err := s.Query(ctx,
		`SELECT data FROM task_queue WHERE agent_id = `+s.dialect.Placeholder(1)+` AND status = `+s.dialect.Placeholder(2)+
			` ORDER BY priority_rank DESC, created_at ASC`,
		agentID, string(model.TaskQueued))
	if err != nil {
		return nil, err
	}
	return decodeRows[model.QueuedTask](rows)
}

// DeleteTask removes a QueuedTask row.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return tasksTable.delete(ctx, s, id)
}
