package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	m, err := New(context.Background(), st)
	require.NoError(t, err)
	return m, st
}

func TestCreateDefaultOrgIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	org, err := m.CreateDefaultOrg(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultOrgID, org.Slug)
	require.Equal(t, model.PlanSelfHosted, org.Plan)
	require.Zero(t, org.Limits.MaxAgents)

	again, err := m.CreateDefaultOrg(ctx)
	require.NoError(t, err)
	require.Equal(t, org.ID, again.ID)
	require.Len(t, m.ListOrgs(), 1)
}

func TestCreateOrgRejectsDuplicateSlug(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	_, err = m.CreateOrg(ctx, uuid.NewString(), "Acme 2", "acme", model.PlanTeam)
	require.ErrorIs(t, err, ErrDuplicateSlug)
}

func TestCheckLimitUnlimitedAndExceeded(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	org, err := m.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	check, err := m.CheckLimit(org.ID, "agents", 0, false)
	require.NoError(t, err)
	require.True(t, check.Allowed)
	require.Equal(t, int64(2), check.Limit)

	require.NoError(t, m.RecordUsage(ctx, org.ID, UsageDelta{SetAgents: int64Ptr(2)}))
	check, err = m.CheckLimit(org.ID, "agents", 0, false)
	require.NoError(t, err)
	require.False(t, check.Allowed)

	enterprise, err := m.CreateOrg(ctx, uuid.NewString(), "Big Co", "bigco", model.PlanEnterprise)
	require.NoError(t, err)
	check, err = m.CheckLimit(enterprise.ID, "agents", 0, false)
	require.NoError(t, err)
	require.True(t, check.Allowed)
	require.Equal(t, int64(-1), check.Remaining)
}

func TestHasFeatureAndCanDeployTo(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	team, err := m.CreateOrg(ctx, uuid.NewString(), "Team Co", "team-co", model.PlanTeam)
	require.NoError(t, err)

	require.True(t, m.HasFeature(team.ID, "workforce_scheduler"))
	require.False(t, m.HasFeature(team.ID, "sso"))
	require.True(t, m.CanDeployTo(team.ID, "docker"))
	require.False(t, m.CanDeployTo(team.ID, "kubernetes"))
}

func TestAPIKeyRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	org, err := m.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	_, fullKey, err := m.CreateAPIKey(ctx, org.ID, "ci-bot", []string{"agents:write"})
	require.NoError(t, err)
	require.Contains(t, fullKey, "ocx_")

	got, err := m.ValidateAPIKey(ctx, fullKey)
	require.NoError(t, err)
	require.Equal(t, org.ID, got.ID)

	_, err = m.ValidateAPIKey(ctx, "ocx_deadbeef.wrongsecret")
	require.Error(t, err)
}

func int64Ptr(v int64) *int64 { return &v }
