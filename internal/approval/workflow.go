// Package approval is the Approval Workflow: a queue of ApprovalRequest
// rows in "pending" state, gated by org-scoped ApprovalPolicy matching,
// with an expiry sweep invoked by the Workforce Scheduler's tick.
//
// Grounded on the teacher's internal/arbitrator dispute-resolution queue
// shape (request/decide/terminal-status pattern) and its event-emission
// style via internal/events/bus.go.
package approval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/workforce/internal/catalog"
	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

const defaultTimeoutMinutes = 30

// Workflow manages the approval request queue.
type Workflow struct {
	st      *store.Store
	cat     *catalog.Catalog
	emitter events.EventEmitter

	// defaultPolicy is used when no org ApprovalPolicy matches a request.
	defaultPolicy *model.ApprovalPolicy
}

// New builds an Approval Workflow over st, cat, and an event emitter, using
// the built-in 30-minute/no-auto-deny fallback policy.
func New(st *store.Store, cat *catalog.Catalog, emitter events.EventEmitter) *Workflow {
	return NewWithDefaultPolicy(st, cat, emitter, defaultTimeoutMinutes, false)
}

// NewWithDefaultPolicy builds an Approval Workflow whose fallback policy
// (applied when no org ApprovalPolicy matches) takes its timeout and
// auto-deny behavior from the process config (§4.5 default 30 min,
// overridable — see config.ApprovalConfig).
func NewWithDefaultPolicy(st *store.Store, cat *catalog.Catalog, emitter events.EventEmitter, timeoutMinutes int, autoDenyOnTimeout bool) *Workflow {
	if timeoutMinutes <= 0 {
		timeoutMinutes = defaultTimeoutMinutes
	}
	return &Workflow{
		st: st, cat: cat, emitter: emitter,
		defaultPolicy: &model.ApprovalPolicy{
			Name:              "default",
			TimeoutMinutes:    timeoutMinutes,
			AutoDenyOnTimeout: autoDenyOnTimeout,
		},
	}
}

// Request creates a pending ApprovalRequest, stamping its expiry from the
// matching org policy's timeout (defaulting to 30 minutes).
func (w *Workflow) Request(ctx context.Context, orgID, agentID, agentName, toolID, reason string, params, reqContext map[string]interface{}) (*model.ApprovalRequest, error) {
	entry, _ := w.cat.Lookup(toolID)

	policy, err := w.resolvePolicy(ctx, orgID, toolID, entry)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	toolName := toolID
	var risk model.RiskLevel
	var sideEffects []model.SideEffect
	if entry != nil {
		toolName = entry.ID
		risk = entry.Risk
		sideEffects = entry.SideEffects
	}

	req := &model.ApprovalRequest{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		AgentName:   agentName,
		OrgID:       orgID,
		ToolID:      toolID,
		ToolName:    toolName,
		Reason:      reason,
		RiskLevel:   risk,
		SideEffects: sideEffects,
		Parameters:  params,
		Context:     reqContext,
		Status:      model.ApprovalPending,
		ExpiresAt:   now.Add(time.Duration(policy.TimeoutMinutes) * time.Minute),
		CreatedAt:   now,
	}
	if err := w.st.UpsertApproval(ctx, req); err != nil {
		return nil, err
	}
	w.emitter.Emit("approval.requested", "approval-workflow", req.ID, map[string]interface{}{
		"agentId": agentID, "orgId": orgID, "toolId": toolID,
	})
	return req, nil
}

// Decide applies a human decision to a pending request. Only valid on
// pending; the decision that arrives first wins (expiry sweep included).
func (w *Workflow) Decide(ctx context.Context, id string, approved bool, by, reason string) (*model.ApprovalRequest, error) {
	req, err := w.st.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != model.ApprovalPending {
		return nil, fmt.Errorf("approval: request %s is not pending (status=%s)", id, req.Status)
	}

	req.Decision = &model.ApprovalDecision{By: by, At: time.Now().UTC(), Reason: reason}
	if approved {
		req.Status = model.ApprovalApproved
	} else {
		req.Status = model.ApprovalDenied
	}
	if err := w.st.UpsertApproval(ctx, req); err != nil {
		return nil, err
	}
	w.emitter.Emit("approval.decided", "approval-workflow", req.ID, map[string]interface{}{
		"agentId": req.AgentID, "orgId": req.OrgID, "status": string(req.Status), "by": by,
	})
	return req, nil
}

// SweepExpired moves every pending request whose expiry has passed to
// "expired" (or "auto_denied" if its matching policy specifies
// autoDenyOnTimeout). Invoked by the Workforce Scheduler's tick.
func (w *Workflow) SweepExpired(ctx context.Context) (int, error) {
	pending, err := w.st.ListPendingApprovals(ctx, "")
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	swept := 0
	for _, req := range pending {
		if req.ExpiresAt.After(now) {
			continue
		}
		entry, _ := w.cat.Lookup(req.ToolID)
		policy, err := w.resolvePolicy(ctx, req.OrgID, req.ToolID, entry)
		if err != nil {
			return swept, err
		}
		if policy.AutoDenyOnTimeout {
			req.Status = model.ApprovalAutoDenied
		} else {
			req.Status = model.ApprovalExpired
		}
		if err := w.st.UpsertApproval(ctx, req); err != nil {
			return swept, err
		}
		w.emitter.Emit("approval.expired", "approval-workflow", req.ID, map[string]interface{}{
			"agentId": req.AgentID, "orgId": req.OrgID, "status": string(req.Status),
		})
		swept++
	}
	return swept, nil
}

// GetPending returns every pending request, optionally filtered by agent.
func (w *Workflow) GetPending(ctx context.Context, agentID string) ([]*model.ApprovalRequest, error) {
	return w.st.ListPendingApprovals(ctx, agentID)
}

// GetHistory returns terminal-status requests, most recent first, with
// limit/offset paging.
func (w *Workflow) GetHistory(ctx context.Context, agentID string, limit, offset int) ([]*model.ApprovalRequest, error) {
	return w.st.ListApprovalHistory(ctx, agentID, limit, offset)
}

// resolvePolicy finds the highest-priority ApprovalPolicy matching toolID's
// pattern/risk/side-effects within orgID, falling back to defaultPolicy.
func (w *Workflow) resolvePolicy(ctx context.Context, orgID, toolID string, entry *model.ToolCatalogEntry) (*model.ApprovalPolicy, error) {
	policies, err := w.st.ListApprovalPolicies(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for _, p := range policies {
		if policyMatches(p, toolID, entry) {
			return p, nil
		}
	}
	return w.defaultPolicy, nil
}

func policyMatches(p *model.ApprovalPolicy, toolID string, entry *model.ToolCatalogEntry) bool {
	if len(p.ToolIDPatterns) > 0 && !anyPatternMatches(p.ToolIDPatterns, toolID) {
		return false
	}
	if len(p.RiskLevels) > 0 {
		if entry == nil || !riskListContains(p.RiskLevels, entry.Risk) {
			return false
		}
	}
	if len(p.SideEffects) > 0 {
		if entry == nil || !anySideEffectMatches(p.SideEffects, entry.SideEffects) {
			return false
		}
	}
	return true
}

func anyPatternMatches(patterns []string, toolID string) bool {
	for _, pat := range patterns {
		if strings.HasSuffix(pat, "*") {
			if strings.HasPrefix(toolID, strings.TrimSuffix(pat, "*")) {
				return true
			}
			continue
		}
		if pat == toolID {
			return true
		}
	}
	return false
}

func riskListContains(list []model.RiskLevel, v model.RiskLevel) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func anySideEffectMatches(list, candidates []model.SideEffect) bool {
	for _, c := range candidates {
		for _, x := range list {
			if x == c {
				return true
			}
		}
	}
	return false
}
