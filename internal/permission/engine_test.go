package permission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/catalog"
	"github.com/ocx/workforce/internal/model"
)

func fixedCtx(hour, minute int) Context {
	return Context{Time: time.Date(2026, 1, 5, hour, minute, 0, 0, time.UTC)}
}

func TestNoProfileDenies(t *testing.T) {
	cat := catalog.New()
	e := New(cat, func(agentID string) (*model.PermissionProfile, bool) { return nil, false })
	d := e.EvaluateToolCall("agent-1", "email.send", fixedCtx(10, 0))
	require.False(t, d.Allowed)
	require.Equal(t, "No permission profile", d.Reason)
}

func TestSandboxModeShortCircuits(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{Constraints: model.Constraints{SandboxMode: true}}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })
	d := e.EvaluateToolCall("agent-1", "data.delete", fixedCtx(10, 0))
	require.True(t, d.Allowed)
	require.True(t, d.Sandbox)
}

func TestWorkingHoursGate(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{
		MaxRiskLevel: model.RiskCritical,
		Skills:       model.SkillGate{Mode: model.SkillModeBlocklist},
		Constraints: model.Constraints{
			AllowedWorkingHours: &model.WorkingHours{Start: "09:00", End: "17:00", TZ: "UTC"},
		},
	}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })

	inside := e.EvaluateToolCall("agent-1", "http.request", fixedCtx(12, 0))
	require.True(t, inside.Allowed)

	outside := e.EvaluateToolCall("agent-1", "http.request", fixedCtx(20, 0))
	require.False(t, outside.Allowed)
	require.Equal(t, "outside working hours", outside.Reason)
}

func TestBlockedToolDenies(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{
		MaxRiskLevel: model.RiskCritical,
		Tools:        model.ToolGate{Blocked: []string{"data.delete"}},
	}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })
	d := e.EvaluateToolCall("agent-1", "data.delete", fixedCtx(10, 0))
	require.False(t, d.Allowed)
	require.Equal(t, "explicitly blocked", d.Reason)
}

func TestUnknownToolDenied(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{MaxRiskLevel: model.RiskCritical}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })
	d := e.EvaluateToolCall("agent-1", "nonexistent.tool", fixedCtx(10, 0))
	require.False(t, d.Allowed)
	require.Equal(t, "unknown tool", d.Reason)
}

func TestSkillAllowlistGate(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{
		MaxRiskLevel: model.RiskCritical,
		Skills:       model.SkillGate{Mode: model.SkillModeAllowlist, List: []string{"network"}},
	}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })

	allowed := e.EvaluateToolCall("agent-1", "http.request", fixedCtx(10, 0))
	require.True(t, allowed.Allowed)

	denied := e.EvaluateToolCall("agent-1", "email.send", fixedCtx(10, 0))
	require.False(t, denied.Allowed)
	require.Equal(t, "skill not allowlisted", denied.Reason)
}

func TestRiskGateDenies(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{
		MaxRiskLevel: model.RiskLow,
		Skills:       model.SkillGate{Mode: model.SkillModeBlocklist},
	}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })
	d := e.EvaluateToolCall("agent-1", "data.delete", fixedCtx(10, 0))
	require.False(t, d.Allowed)
	require.Equal(t, "risk level exceeds profile maximum", d.Reason)
}

func TestSideEffectGateDenies(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{
		MaxRiskLevel:  model.RiskCritical,
		Skills:        model.SkillGate{Mode: model.SkillModeBlocklist},
		BlockedSideFX: []model.SideEffect{model.SideEffectSendsEmail},
	}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })
	d := e.EvaluateToolCall("agent-1", "email.send", fixedCtx(10, 0))
	require.False(t, d.Allowed)
	require.Equal(t, "blocked side effect", d.Reason)
}

func TestApprovalGateRequiresApprovalOnMatch(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{
		MaxRiskLevel: model.RiskCritical,
		Skills:       model.SkillGate{Mode: model.SkillModeBlocklist},
		RequireApproval: model.ApprovalGate{
			Enabled:       true,
			ForRiskLevels: []model.RiskLevel{model.RiskCritical},
		},
	}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })
	d := e.EvaluateToolCall("agent-1", "data.delete", fixedCtx(10, 0))
	require.True(t, d.Allowed)
	require.True(t, d.RequiresApproval)
}

func TestGenerateToolPolicyPartitionsCatalog(t *testing.T) {
	cat := catalog.New()
	profile := &model.PermissionProfile{
		MaxRiskLevel: model.RiskMedium,
		Skills:       model.SkillGate{Mode: model.SkillModeBlocklist},
	}
	e := New(cat, func(string) (*model.PermissionProfile, bool) { return profile, true })
	policy := e.GenerateToolPolicy("agent-1")
	require.NotEmpty(t, policy.AllowedTools)
	require.NotEmpty(t, policy.BlockedTools)
}
