// Package permission is the Permission Engine: given (agentId, toolId,
// context), decides whether a tool call is allowed, denied, or requires
// human approval, by running a strict first-match pipeline over the
// agent's bound PermissionProfile and the Tool Catalog.
//
// Grounded on the teacher's layered gate functions in
// internal/escrow/tri_factor_gate.go and internal/escrow/classifier.go
// (sequential checks, each an early allow/deny), restructured here into
// the eleven-step evaluation order this control plane requires.
package permission

import (
	"time"

	"github.com/ocx/workforce/internal/catalog"
	"github.com/ocx/workforce/internal/model"
)

// Context carries the request-time facts the gates consult.
type Context struct {
	Time time.Time
	IP   string
}

// Decision is the outcome of one EvaluateToolCall.
type Decision struct {
	Allowed          bool
	Reason           string
	RequiresApproval bool
	Sandbox          bool
}

// ProfileLookup resolves the PermissionProfile bound to an agent, if any.
type ProfileLookup func(agentID string) (*model.PermissionProfile, bool)

// Engine evaluates tool calls against profiles and the catalog.
type Engine struct {
	catalog  *catalog.Catalog
	profiles ProfileLookup
}

// New builds a Permission Engine over cat and a profile resolver.
func New(cat *catalog.Catalog, profiles ProfileLookup) *Engine {
	return &Engine{catalog: cat, profiles: profiles}
}

// EvaluateToolCall runs the eleven-step strict first-match pipeline.
func (e *Engine) EvaluateToolCall(agentID, toolID string, ctx Context) Decision {
	profile, ok := e.profiles(agentID)
	if !ok {
		return Decision{Allowed: false, Reason: "No permission profile"}
	}

	if profile.Constraints.SandboxMode {
		return Decision{Allowed: true, Reason: "simulated", Sandbox: true}
	}

	if profile.Constraints.AllowedWorkingHours != nil {
		if !withinWindow(*profile.Constraints.AllowedWorkingHours, ctx.Time) {
			return Decision{Allowed: false, Reason: "outside working hours"}
		}
	}

	if len(profile.Constraints.AllowedIPs) > 0 && !contains(profile.Constraints.AllowedIPs, ctx.IP) {
		return Decision{Allowed: false, Reason: "IP not allowlisted"}
	}

	if contains(profile.Tools.Blocked, toolID) {
		return Decision{Allowed: false, Reason: "explicitly blocked"}
	}

	if contains(profile.Tools.Allowed, toolID) {
		// Skill/risk/side-effect gates are skipped for explicitly allowlisted
		// tools; the catalog entry (if any) is still consulted for the
		// approval gate's risk/side-effect match.
		entry, _ := e.catalog.Lookup(toolID)
		return e.approvalDecision(profile, entry)
	}

	entry, ok := e.catalog.Lookup(toolID)
	if !ok {
		return Decision{Allowed: false, Reason: "unknown tool"}
	}

	switch profile.Skills.Mode {
	case model.SkillModeAllowlist:
		if !contains(profile.Skills.List, entry.SkillID) {
			return Decision{Allowed: false, Reason: "skill not allowlisted"}
		}
	case model.SkillModeBlocklist:
		if contains(profile.Skills.List, entry.SkillID) {
			return Decision{Allowed: false, Reason: "skill blocklisted"}
		}
	}

	if entry.Risk.Ordinal() > profile.MaxRiskLevel.Ordinal() {
		return Decision{Allowed: false, Reason: "risk level exceeds profile maximum"}
	}

	for _, se := range entry.SideEffects {
		if containsSideEffect(profile.BlockedSideFX, se) {
			return Decision{Allowed: false, Reason: "blocked side effect"}
		}
	}

	return e.approvalDecision(profile, entry)
}

// approvalDecision implements step 11: a permitted call is still gated on
// requireApproval matching the tool's risk/side-effects. Explicitly
// allowlisted tools reach this gate too; entry is nil only when such a tool
// has no catalog entry, and then the result is a plain "permitted".
func (e *Engine) approvalDecision(profile *model.PermissionProfile, entry *model.ToolCatalogEntry) Decision {
	if entry != nil && profile.RequireApproval.Enabled {
		riskMatch := containsRisk(profile.RequireApproval.ForRiskLevels, entry.Risk)
		sideEffectMatch := false
		for _, se := range entry.SideEffects {
			if containsSideEffect(profile.RequireApproval.ForSideEffects, se) {
				sideEffectMatch = true
				break
			}
		}
		if riskMatch || sideEffectMatch {
			return Decision{Allowed: true, Reason: "requires human approval", RequiresApproval: true}
		}
	}
	return Decision{Allowed: true, Reason: "permitted"}
}

func withinWindow(w model.WorkingHours, at time.Time) bool {
	loc, err := time.LoadLocation(w.TZ)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	start, err1 := time.ParseInLocation("15:04", w.Start, loc)
	end, err2 := time.ParseInLocation("15:04", w.End, loc)
	if err1 != nil || err2 != nil {
		return true
	}
	nowMinutes := local.Hour()*60 + local.Minute()
	startMinutes := start.Hour()*60 + start.Minute()
	endMinutes := end.Hour()*60 + end.Minute()
	if startMinutes <= endMinutes {
		return nowMinutes >= startMinutes && nowMinutes < endMinutes
	}
	// overnight window, e.g. 22:00-06:00
	return nowMinutes >= startMinutes || nowMinutes < endMinutes
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsSideEffect(list []model.SideEffect, v model.SideEffect) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsRisk(list []model.RiskLevel, v model.RiskLevel) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// ToolPolicy is the push-down payload enumerated once per agent for
// handoff to the deployed runtime.
type ToolPolicy struct {
	AllowedTools     []string
	BlockedTools     []string
	ApprovalRequired []string
	RateLimits       model.RateLimits
}

// GenerateToolPolicy enumerates the catalog once under EvaluateToolCall's
// rules and returns the resolved allow/block/approval lists.
func (e *Engine) GenerateToolPolicy(agentID string) ToolPolicy {
	profile, ok := e.profiles(agentID)
	if !ok {
		return ToolPolicy{}
	}

	policy := ToolPolicy{RateLimits: profile.RateLimits}
	now := Context{Time: time.Now()}
	for _, entry := range e.catalog.List() {
		d := e.EvaluateToolCall(agentID, entry.ID, now)
		switch {
		case !d.Allowed:
			policy.BlockedTools = append(policy.BlockedTools, entry.ID)
		case d.RequiresApproval:
			policy.ApprovalRequired = append(policy.ApprovalRequired, entry.ID)
			policy.AllowedTools = append(policy.AllowedTools, entry.ID)
		default:
			policy.AllowedTools = append(policy.AllowedTools, entry.ID)
		}
	}
	return policy
}
