package store

import (
	"context"

	"github.com/ocx/workforce/internal/model"
)

var approvalsTable = jsonTable{name: "approval_requests"}
var policiesTable = jsonTable{name: "approval_policies"}

// UpsertApproval inserts or replaces an ApprovalRequest row.
func (s *Store) UpsertApproval(ctx context.Context, a *model.ApprovalRequest) error {
	return approvalsTable.upsert(ctx, s, a.ID, a,
		[]string{"org_id", "agent_id", "status", "expires_at"},
		[]interface{}{a.OrgID, a.AgentID, string(a.Status), a.ExpiresAt.UTC().Format(rfc3339)},
		a.CreatedAt.UTC().Format(rfc3339), nowString())
}

// GetApproval fetches one ApprovalRequest by id.
func (s *Store) GetApproval(ctx context.Context, id string) (*model.ApprovalRequest, error) {
	var a model.ApprovalRequest
	if err := approvalsTable.getByID(ctx, s, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListPendingApprovals returns every request currently in "pending" status,
// optionally filtered by agent.
func (s *Store) ListPendingApprovals(ctx context.Context, agentID string) ([]*model.ApprovalRequest, error) {
	items, err := approvalsTable.listWhere(ctx, s, "status", string(model.ApprovalPending), "created_at ASC", func() interface{} { return &model.ApprovalRequest{} })
	if err != nil {
		return nil, err
	}
	return filterByAgent(items, agentID), nil
}

// ListApprovalHistory returns terminal-status requests, most recent first,
// optionally filtered by agent, with limit/offset paging.
func (s *Store) ListApprovalHistory(ctx context.Context, agentID string, limit, offset int) ([]*model.ApprovalRequest, error) {
	rows, err := s.Query(ctx, `SELECT data FROM approval_requests WHERE status != `+s.dialect.Placeholder(1)+` ORDER BY created_at DESC`, string(model.ApprovalPending))
	if err != nil {
		return nil, err
	}
	all, err := decodeRows[model.ApprovalRequest](rows)
	if err != nil {
		return nil, err
	}
	var filtered []*model.ApprovalRequest
	for _, a := range all {
		if agentID == "" || a.AgentID == agentID {
			filtered = append(filtered, a)
		}
	}
	if offset >= len(filtered) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], nil
}

func filterByAgent(items []interface{}, agentID string) []*model.ApprovalRequest {
	out := make([]*model.ApprovalRequest, 0, len(items))
	for _, it := range items {
		a := it.(*model.ApprovalRequest)
		if agentID == "" || a.AgentID == agentID {
			out = append(out, a)
		}
	}
	return out
}

// UpsertApprovalPolicy inserts or replaces an ApprovalPolicy row.
func (s *Store) UpsertApprovalPolicy(ctx context.Context, p *model.ApprovalPolicy) error {
	now := nowString()
	return policiesTable.upsert(ctx, s, p.ID, p, []string{"org_id", "priority"}, []interface{}{p.OrgID, p.Priority}, now, now)
}

// ListApprovalPolicies returns every policy scoped to orgID, highest
// priority first.
func (s *Store) ListApprovalPolicies(ctx context.Context, orgID string) ([]*model.ApprovalPolicy, error) {
	items, err := policiesTable.listWhere(ctx, s, "org_id", orgID, "priority DESC", func() interface{} { return &model.ApprovalPolicy{} })
	if err != nil {
		return nil, err
	}
	out := make([]*model.ApprovalPolicy, len(items))
	for i, it := range items {
		out[i] = it.(*model.ApprovalPolicy)
	}
	return out, nil
}

// DeleteApprovalPolicy removes an ApprovalPolicy row.
func (s *Store) DeleteApprovalPolicy(ctx context.Context, id string) error {
	return policiesTable.delete(ctx, s, id)
}
