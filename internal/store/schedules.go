package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var schedulesTable = jsonTable{name: "work_schedules"}
var clockTable = jsonTable{name: "clock_records"}

// UpsertSchedule inserts or replaces a WorkSchedule row.
func (s *Store) UpsertSchedule(ctx context.Context, w *model.WorkSchedule) error {
	now := nowString()
	return schedulesTable.upsert(ctx, s, w.ID, w, []string{"org_id", "agent_id"}, []interface{}{w.OrgID, w.AgentID}, now, now)
}

// GetScheduleByAgent fetches the WorkSchedule owned by agentID, if any.
func (s *Store) GetScheduleByAgent(ctx context.Context, agentID string) (*model.WorkSchedule, error) {
	items, err := schedulesTable.listWhere(ctx, s, "agent_id", agentID, "", func() interface{} { return &model.WorkSchedule{} })
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0].(*model.WorkSchedule), nil
}

// ListSchedulesByOrg returns every WorkSchedule scoped to orgID.
func (s *Store) ListSchedulesByOrg(ctx context.Context, orgID string) ([]*model.WorkSchedule, error) {
	items, err := schedulesTable.listWhere(ctx, s, "org_id", orgID, "", func() interface{} { return &model.WorkSchedule{} })
	if err != nil {
		return nil, err
	}
	out := make([]*model.WorkSchedule, len(items))
	for i, it := range items {
		out[i] = it.(*model.WorkSchedule)
	}
	return out, nil
}

// DeleteSchedule removes a WorkSchedule row.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	return schedulesTable.delete(ctx, s, id)
}

// UpsertClockRecord inserts a ClockRecord audit entry. Records are
// append-only; the id must be freshly generated per call.
func (s *Store) UpsertClockRecord(ctx context.Context, c *model.ClockRecord) error {
	ts := c.ActualAt.UTC().Format(rfc3339)
	return clockTable.upsert(ctx, s, c.ID, c, []string{"org_id", "agent_id", "type"}, []interface{}{c.OrgID, c.AgentID, string(c.Type)}, ts, ts)
}

// CurrentClockStatus reports the scheduler's view of agentID's duty state
// by inspecting the most recent clock_in/clock_out record.
func (s *Store) CurrentClockStatus(ctx context.Context, agentID string) (model.ClockStatus, error) {
	items, err := clockTable.listWhere(ctx, s, "agent_id", agentID, "created_at DESC", func() interface{} { return &model.ClockRecord{} })
	if err != nil {
		return "", err
	}
	for _, it := range items {
		c := it.(*model.ClockRecord)
		switch c.Type {
		case model.ClockIn:
			return model.ClockStatusIn, nil
		case model.ClockOut:
			return model.ClockStatusOut, nil
		}
	}
	return model.ClockStatusNoSched, nil
}

// ListClockRecordsByAgent returns the clock history for one agent, most
// recent first.
func (s *Store) ListClockRecordsByAgent(ctx context.Context, agentID string) ([]*model.ClockRecord, error) {
	items, err := clockTable.listWhere(ctx, s, "agent_id", agentID, "created_at DESC", func() interface{} { return &model.ClockRecord{} })
	if err != nil {
		return nil, err
	}
	out := make([]*model.ClockRecord, len(items))
	for i, it := range items {
		out[i] = it.(*model.ClockRecord)
	}
	return out, nil
}
