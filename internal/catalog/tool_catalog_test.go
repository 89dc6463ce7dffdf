package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/model"
)

func TestNewSeedsBuiltinDefaults(t *testing.T) {
	c := New()
	require.Greater(t, c.Count(), 0)

	entry, ok := c.Lookup("email.send")
	require.True(t, ok)
	require.Equal(t, model.RiskMedium, entry.Risk)
}

func TestRegisterRejectsUnknownRisk(t *testing.T) {
	c := New()
	err := c.Register(&model.ToolCatalogEntry{ID: "custom.tool", Risk: model.RiskLevel("unknown")})
	require.Error(t, err)
}

func TestRegisterRejectsMissingID(t *testing.T) {
	c := New()
	err := c.Register(&model.ToolCatalogEntry{Risk: model.RiskLow})
	require.Error(t, err)
}

func TestDeleteRemovesRegisteredTool(t *testing.T) {
	c := New()
	require.NoError(t, c.Register(&model.ToolCatalogEntry{ID: "custom.tool", Risk: model.RiskLow}))
	require.NoError(t, c.Delete("custom.tool"))
	_, ok := c.Lookup("custom.tool")
	require.False(t, ok)
}

func TestDeleteUnknownToolErrors(t *testing.T) {
	c := New()
	require.Error(t, c.Delete("does.not.exist"))
}

func TestToolsBySkillGroupsEntries(t *testing.T) {
	c := New()
	bySkill := c.ToolsBySkill()
	require.Contains(t, bySkill, "filesystem")
	require.GreaterOrEqual(t, len(bySkill["filesystem"]), 2) // files.write and data.delete
}

func TestToRuntimePolicyShapesAllowDenyLists(t *testing.T) {
	policy := ToRuntimePolicy([]string{"email.send", "message.send"}, []string{"data.delete"})
	require.Equal(t, []string{"email.send", "message.send"}, policy.ToolsAllow)
	require.Equal(t, []string{"data.delete"}, policy.ToolsDeny)
	require.False(t, policy.GeneratedAt.IsZero())
}
