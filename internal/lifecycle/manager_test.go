package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/budget"
	"github.com/ocx/workforce/internal/catalog"
	"github.com/ocx/workforce/internal/deployer"
	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/permission"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
)

// fakeDeployer gives tests full control over GetStatus/Restart/UpdateConfig
// outcomes, which the simulated deployer's always-healthy behavior can't
// exercise (degraded deploys, failed restarts, auto-recovery).
type fakeDeployer struct {
	mu sync.Mutex

	statusQueue []deployer.StatusReport // consumed in order; last entry repeats
	restartErr  error
	restartOK   bool
	updateErr   error
	restarts    int
}

func (f *fakeDeployer) Deploy(ctx context.Context, agentID string, cfg model.AgentConfig, progress deployer.ProgressFunc) (deployer.Result, error) {
	return deployer.Result{Success: true}, nil
}

func (f *fakeDeployer) Stop(ctx context.Context, agentID string, cfg model.AgentConfig) (deployer.Result, error) {
	return deployer.Result{Success: true}, nil
}

func (f *fakeDeployer) Restart(ctx context.Context, agentID string, cfg model.AgentConfig) (deployer.Result, error) {
	f.mu.Lock()
	f.restarts++
	f.mu.Unlock()
	if f.restartErr != nil {
		return deployer.Result{}, f.restartErr
	}
	if !f.restartOK {
		return deployer.Result{Success: false, Error: "restart refused"}, nil
	}
	return deployer.Result{Success: true}, nil
}

func (f *fakeDeployer) UpdateConfig(ctx context.Context, agentID string, cfg model.AgentConfig) (deployer.Result, error) {
	if f.updateErr != nil {
		return deployer.Result{Success: false, Error: f.updateErr.Error()}, nil
	}
	return deployer.Result{Success: true}, nil
}

func (f *fakeDeployer) GetStatus(ctx context.Context, agentID string, cfg model.AgentConfig) (deployer.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statusQueue) == 0 {
		return deployer.StatusReport{HealthStatus: model.HealthHealthy}, nil
	}
	next := f.statusQueue[0]
	if len(f.statusQueue) > 1 {
		f.statusQueue = f.statusQueue[1:]
	}
	return next, nil
}

func newTestManager(t *testing.T) (*Manager, *tenant.Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tenants, err := tenant.New(context.Background(), st)
	require.NoError(t, err)

	bus := events.NewEventBus()
	cat := catalog.New()
	engine := permission.New(cat, func(string) (*model.PermissionProfile, bool) { return nil, false })
	meter := budget.New(st, bus, nil)
	deploys := deployer.NewRegistry()

	m := NewWithThresholds(st, tenants, engine, meter, deploys, bus, nil, 20*time.Millisecond, 2, 3)
	return m, tenants, st
}

// completeConfig targets "docker" (the simulated deployer) rather than
// "local" so Deploy never shells out to a real OS process in tests.
func completeConfig() model.AgentConfig {
	return model.AgentConfig{
		Model:               model.ModelConfig{ModelID: "gpt-4o"},
		Deployment:          model.DeploymentConfig{Target: model.TargetDocker},
		PermissionProfileID: uuid.NewString(),
	}
}

func TestCreateAgentSkipsDraftWhenConfigComplete(t *testing.T) {
	m, tenants, _ := newTestManager(t)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	agent, err := m.CreateAgent(ctx, org.ID, completeConfig())
	require.NoError(t, err)
	require.Equal(t, model.StateConfiguring, agent.State)
}

func TestCreateAgentStartsDraftWhenIncomplete(t *testing.T) {
	m, tenants, _ := newTestManager(t)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	agent, err := m.CreateAgent(ctx, org.ID, model.AgentConfig{})
	require.NoError(t, err)
	require.Equal(t, model.StateDraft, agent.State)
}

func TestCreateAgentRejectsOverLimit(t *testing.T) {
	m, tenants, _ := newTestManager(t)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	_, err = m.CreateAgent(ctx, org.ID, completeConfig())
	require.NoError(t, err)
	_, err = m.CreateAgent(ctx, org.ID, completeConfig())
	require.NoError(t, err)

	_, err = m.CreateAgent(ctx, org.ID, completeConfig())
	require.Error(t, err)
}

func TestDeployRunsThroughToRunningAndStartsHealthLoop(t *testing.T) {
	m, tenants, st := newTestManager(t)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanTeam)
	require.NoError(t, err)

	agent, err := m.CreateAgent(ctx, org.ID, completeConfig())
	require.NoError(t, err)
	require.Equal(t, model.StateConfiguring, agent.State)

	// CreateAgent only reaches "configuring"; advance to "ready" the same
	// way UpdateConfig would once config is already complete.
	agent, err = m.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.NoError(t, m.transition(ctx, agent, model.StateReady, "test", "force ready"))

	deployed, err := m.Deploy(ctx, agent.ID, "test")
	require.NoError(t, err)
	require.Equal(t, model.StateRunning, deployed.State)
	require.NotNil(t, deployed.LastDeployedAt)

	m.stopHealthLoop(agent.ID)
	_ = st
}

func TestDeployRejectsFromIllegalState(t *testing.T) {
	m, tenants, _ := newTestManager(t)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	agent, err := m.CreateAgent(ctx, org.ID, model.AgentConfig{})
	require.NoError(t, err)
	require.Equal(t, model.StateDraft, agent.State)

	_, err = m.Deploy(ctx, agent.ID, "test")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStopOnNonRunningAgentIsNoop(t *testing.T) {
	m, tenants, _ := newTestManager(t)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	agent, err := m.CreateAgent(ctx, org.ID, model.AgentConfig{})
	require.NoError(t, err)

	require.NoError(t, m.Stop(ctx, agent.ID, "test", "no-op"))

	got, err := m.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateDraft, got.State)
}

func TestCanTransitionTable(t *testing.T) {
	require.True(t, canTransition(model.StateDraft, model.StateConfiguring))
	require.False(t, canTransition(model.StateDraft, model.StateRunning))
	require.True(t, canTransition(model.StateRunning, model.StateDegraded))
	require.False(t, canTransition(model.StateDestroying, model.StateRunning))
}

func TestDestroyRemovesAgent(t *testing.T) {
	m, tenants, _ := newTestManager(t)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanFree)
	require.NoError(t, err)

	agent, err := m.CreateAgent(ctx, org.ID, model.AgentConfig{})
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, agent.ID, "test", "cleanup"))

	_, err = m.GetAgent(ctx, agent.ID)
	require.ErrorIs(t, err, ErrAgentNotFound)
}

// newTestManagerWithDeployer is newTestManager plus a fakeDeployer pinned
// to "docker" so tests can script GetStatus/Restart/UpdateConfig outcomes
// the always-healthy simulated deployer can't produce.
func newTestManagerWithDeployer(t *testing.T, fd *fakeDeployer) (*Manager, *tenant.Manager) {
	t.Helper()
	st, err := store.Open(store.DialectSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tenants, err := tenant.New(context.Background(), st)
	require.NoError(t, err)

	bus := events.NewEventBus()
	cat := catalog.New()
	engine := permission.New(cat, func(string) (*model.PermissionProfile, bool) { return nil, false })
	meter := budget.New(st, bus, nil)
	deploys := deployer.NewRegistry()
	deploys.SetOverride(model.TargetDocker, fd)

	m := NewWithThresholds(st, tenants, engine, meter, deploys, bus, nil, 20*time.Millisecond, 2, 3)
	m.deployHealthyBudget = 40 * time.Millisecond
	m.restartHealthyBudget = 40 * time.Millisecond
	m.healthyPollInterval = 5 * time.Millisecond
	return m, tenants
}

func deployToRunning(t *testing.T, m *Manager, orgID string) *model.ManagedAgent {
	t.Helper()
	ctx := context.Background()
	agent, err := m.CreateAgent(ctx, orgID, completeConfig())
	require.NoError(t, err)
	agent, err = m.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	require.NoError(t, m.transition(ctx, agent, model.StateReady, "test", "force ready"))
	deployed, err := m.Deploy(ctx, agent.ID, "test")
	require.NoError(t, err)
	return deployed
}

func TestDeployGoesDegradedWhenNeverHealthy(t *testing.T) {
	fd := &fakeDeployer{statusQueue: []deployer.StatusReport{{HealthStatus: model.HealthUnhealthy}}}
	m, tenants := newTestManagerWithDeployer(t, fd)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanTeam)
	require.NoError(t, err)

	deployed := deployToRunning(t, m, org.ID)
	require.Equal(t, model.StateDegraded, deployed.State)
	m.stopHealthLoop(deployed.ID)
}

func TestHotUpdateReturnsToPreUpdateStateOnSuccess(t *testing.T) {
	fd := &fakeDeployer{statusQueue: []deployer.StatusReport{{HealthStatus: model.HealthHealthy}}}
	m, tenants := newTestManagerWithDeployer(t, fd)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanTeam)
	require.NoError(t, err)

	deployed := deployToRunning(t, m, org.ID)
	require.Equal(t, model.StateRunning, deployed.State)
	m.stopHealthLoop(deployed.ID)

	patch := deployed.Config
	patch.Model.ModelID = "gpt-4o-mini"
	updated, err := m.HotUpdate(ctx, deployed.ID, patch)
	require.NoError(t, err)
	require.Equal(t, model.StateRunning, updated.State)
	require.Equal(t, "gpt-4o-mini", updated.Config.Model.ModelID)
	m.stopHealthLoop(deployed.ID)
}

func TestHotUpdateGoesDegradedOnDeployerFailure(t *testing.T) {
	fd := &fakeDeployer{
		statusQueue: []deployer.StatusReport{{HealthStatus: model.HealthHealthy}},
		updateErr:   assertErr,
	}
	m, tenants := newTestManagerWithDeployer(t, fd)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanTeam)
	require.NoError(t, err)

	deployed := deployToRunning(t, m, org.ID)
	m.stopHealthLoop(deployed.ID)

	_, err = m.HotUpdate(ctx, deployed.ID, deployed.Config)
	require.Error(t, err)

	got, err := m.GetAgent(ctx, deployed.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateDegraded, got.State)
	m.stopHealthLoop(deployed.ID)
}

func TestHotUpdateRejectedOutsideRunningOrDegraded(t *testing.T) {
	fd := &fakeDeployer{}
	m, tenants := newTestManagerWithDeployer(t, fd)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanTeam)
	require.NoError(t, err)

	agent, err := m.CreateAgent(ctx, org.ID, completeConfig())
	require.NoError(t, err)

	_, err = m.HotUpdate(ctx, agent.ID, agent.Config)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRestartAppliesDeployerRestartAndReturnsToRunning(t *testing.T) {
	fd := &fakeDeployer{restartOK: true, statusQueue: []deployer.StatusReport{{HealthStatus: model.HealthHealthy}}}
	m, tenants := newTestManagerWithDeployer(t, fd)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanTeam)
	require.NoError(t, err)

	deployed := deployToRunning(t, m, org.ID)
	m.stopHealthLoop(deployed.ID)

	restarted, err := m.Restart(ctx, deployed.ID, "test")
	require.NoError(t, err)
	require.Equal(t, model.StateRunning, restarted.State)
	require.Equal(t, 1, fd.restarts)
	m.stopHealthLoop(deployed.ID)
}

func TestRestartGoesErrorWhenDeployerRestartFails(t *testing.T) {
	fd := &fakeDeployer{restartOK: false, statusQueue: []deployer.StatusReport{{HealthStatus: model.HealthHealthy}}}
	m, tenants := newTestManagerWithDeployer(t, fd)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanTeam)
	require.NoError(t, err)

	deployed := deployToRunning(t, m, org.ID)
	m.stopHealthLoop(deployed.ID)

	_, err = m.Restart(ctx, deployed.ID, "test")
	require.Error(t, err)

	got, err := m.GetAgent(ctx, deployed.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateError, got.State)
	m.stopHealthLoop(deployed.ID)
}

func TestAutoRecoverMovesToStartingAndResetsFailureCount(t *testing.T) {
	fd := &fakeDeployer{
		restartOK: true,
		statusQueue: []deployer.StatusReport{
			{HealthStatus: model.HealthUnhealthy},
			{HealthStatus: model.HealthUnhealthy},
			{HealthStatus: model.HealthUnhealthy},
		},
	}
	m, tenants := newTestManagerWithDeployer(t, fd)
	ctx := context.Background()

	org, err := tenants.CreateOrg(ctx, uuid.NewString(), "Acme", "acme", model.PlanTeam)
	require.NoError(t, err)

	deployed := deployToRunning(t, m, org.ID)
	require.Equal(t, model.StateDegraded, deployed.State) // never-healthy deploy lands degraded

	// Stop the background ticker so the manual probes below are the only
	// writer, making the failure count deterministic.
	m.stopHealthLoop(deployed.ID)

	// Drive the health check pipeline directly to cross the unhealthy
	// threshold (3, per newTestManagerWithDeployer) without waiting on the
	// real 20ms ticker.
	for i := 0; i < 3; i++ {
		m.probeOnce(ctx, deployed.ID)
	}

	got, err := m.GetAgent(ctx, deployed.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateStarting, got.State)
	require.Equal(t, 0, got.Health.ConsecutiveFailures)
	m.stopHealthLoop(deployed.ID)
}

// assertErr is a stand-in error used only to force fakeDeployer.UpdateConfig
// down its failure branch.
var assertErr = errors.New("update rejected")
