// Package lifecycle is the Agent Lifecycle Manager: the state machine that
// owns every ManagedAgent's transitions (draft -> configuring -> ready ->
// provisioning -> deploying -> starting -> running/degraded ->
// stopped/error/updating/destroying), its Health Loop, and the budget
// hard-stop hookup the Budget Meter enqueues against.
//
// Grounded on the teacher's internal/arbitrator state-machine shape
// (single mutex-guarded map of live objects, named transition methods each
// validating the from-state before mutating) and its per-entity locking
// style, restructured here around the fixed state graph and health-probe
// loop this control plane requires. Deploy/Stop/Restart delegate to an
// injected deployer.Deployer so this package never talks to a concrete
// backend directly.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/workforce/internal/budget"
	"github.com/ocx/workforce/internal/circuitbreaker"
	"github.com/ocx/workforce/internal/deployer"
	"github.com/ocx/workforce/internal/events"
	"github.com/ocx/workforce/internal/metrics"
	"github.com/ocx/workforce/internal/model"
	"github.com/ocx/workforce/internal/permission"
	"github.com/ocx/workforce/internal/store"
	"github.com/ocx/workforce/internal/tenant"
)

// ErrInvalidTransition is returned when a requested transition isn't legal
// from the agent's current state.
var ErrInvalidTransition = errors.New("lifecycle: invalid state transition")

// ErrAgentNotFound is returned when an operation targets an unknown agent.
var ErrAgentNotFound = errors.New("lifecycle: agent not found")

// defaultHealthCheckInterval is the Health Loop's probe cadence (§4.8
// default), used when New is called without an explicit LifecycleConfig.
const defaultHealthCheckInterval = 30 * time.Second

// defaultDegradedThreshold/defaultUnhealthyThreshold are the consecutive-
// failure counts (§4.8 default) that move an agent to degraded, then
// trigger an auto-recovery restart.
const (
	defaultDegradedThreshold  = 2
	defaultUnhealthyThreshold = 5
)

// defaultDeployHealthyBudget/defaultRestartHealthyBudget are the §5
// waitForHealthy timeouts: 60s after an initial deploy, 30s after an
// explicit restart. defaultHealthyPollInterval is how often waitForHealthy
// re-polls GetStatus within that budget.
const (
	defaultDeployHealthyBudget  = 60 * time.Second
	defaultRestartHealthyBudget = 30 * time.Second
	defaultHealthyPollInterval  = 2 * time.Second
)

// legalTransitions is the fixed state graph (§4.8). A transition not
// listed here is rejected.
var legalTransitions = map[model.AgentState][]model.AgentState{
	model.StateDraft:        {model.StateConfiguring, model.StateDestroying},
	model.StateConfiguring:  {model.StateDraft, model.StateReady, model.StateDestroying},
	model.StateReady:        {model.StateConfiguring, model.StateProvisioning, model.StateDestroying},
	model.StateProvisioning: {model.StateDeploying, model.StateError, model.StateDestroying},
	model.StateDeploying:    {model.StateStarting, model.StateError, model.StateDestroying},
	model.StateStarting:     {model.StateRunning, model.StateDegraded, model.StateError, model.StateDestroying},
	model.StateRunning:      {model.StateDegraded, model.StateStopped, model.StateUpdating, model.StateStarting, model.StateDestroying, model.StateError},
	model.StateDegraded:     {model.StateRunning, model.StateStopped, model.StateUpdating, model.StateStarting, model.StateError, model.StateDestroying},
	model.StateStopped:      {model.StateProvisioning, model.StateDestroying, model.StateConfiguring},
	model.StateError:        {model.StateConfiguring, model.StateProvisioning, model.StateDestroying},
	model.StateUpdating:     {model.StateRunning, model.StateDegraded, model.StateError, model.StateDestroying},
	model.StateDestroying:   {},
}

func canTransition(from, to model.AgentState) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// agentLock is a per-agent mutex so concurrent operations on different
// agents never contend, grounded on the teacher's per-object-lock style in
// internal/arbitrator.
type agentLock struct {
	mu sync.Mutex
}

// Manager is the Agent Lifecycle Manager.
type Manager struct {
	st      *store.Store
	tenants *tenant.Manager
	engine  *permission.Engine
	meter   *budget.Meter
	deploys *deployer.Registry
	emitter events.EventEmitter
	metrics *metrics.Metrics

	locksMu sync.Mutex
	locks   map[string]*agentLock

	healthCancel map[string]context.CancelFunc
	healthMu     sync.Mutex

	breakers *circuitbreaker.Manager

	healthCheckInterval time.Duration
	degradedThreshold   int
	unhealthyThreshold  int

	deployHealthyBudget  time.Duration
	restartHealthyBudget time.Duration
	healthyPollInterval  time.Duration
}

// New builds a Lifecycle Manager over every collaborator it drives, using
// the §4.8 default Health Loop cadence and failure thresholds.
func New(st *store.Store, tenants *tenant.Manager, engine *permission.Engine, meter *budget.Meter, deploys *deployer.Registry, emitter events.EventEmitter, m *metrics.Metrics) *Manager {
	return NewWithThresholds(st, tenants, engine, meter, deploys, emitter, m, defaultHealthCheckInterval, defaultDegradedThreshold, defaultUnhealthyThreshold)
}

// NewWithThresholds builds a Lifecycle Manager whose Health Loop cadence
// and consecutive-failure thresholds come from config.LifecycleConfig
// instead of the §4.8 defaults.
func NewWithThresholds(st *store.Store, tenants *tenant.Manager, engine *permission.Engine, meter *budget.Meter, deploys *deployer.Registry, emitter events.EventEmitter, m *metrics.Metrics, healthCheckInterval time.Duration, degradedThreshold, unhealthyThreshold int) *Manager {
	if healthCheckInterval <= 0 {
		healthCheckInterval = defaultHealthCheckInterval
	}
	if degradedThreshold <= 0 {
		degradedThreshold = defaultDegradedThreshold
	}
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = defaultUnhealthyThreshold
	}
	return &Manager{
		st: st, tenants: tenants, engine: engine, meter: meter, deploys: deploys,
		emitter:             emitter,
		metrics:             m,
		locks:               make(map[string]*agentLock),
		healthCancel:        make(map[string]context.CancelFunc),
		breakers:            circuitbreaker.NewManager(circuitbreaker.DefaultConfig("deployer")),
		healthCheckInterval:  healthCheckInterval,
		degradedThreshold:    degradedThreshold,
		unhealthyThreshold:   unhealthyThreshold,
		deployHealthyBudget:  defaultDeployHealthyBudget,
		restartHealthyBudget: defaultRestartHealthyBudget,
		healthyPollInterval:  defaultHealthyPollInterval,
	}
}

// deployerFor returns the Deployer for target wrapped behind a per-target
// circuit breaker, so a backend that starts failing (a dead fly.io region,
// an unreachable systemd host) trips open instead of retrying every
// Health Loop tick into the same timeout.
func (m *Manager) deployerFor(target model.DeploymentTarget) (deployer.Deployer, *circuitbreaker.CircuitBreaker) {
	cb := m.breakers.GetOrCreate(string(target), circuitbreaker.DefaultConfig(string(target)))
	return m.deploys.For(target), cb
}

// DeployerHealth reports the breaker state for every deployment target
// that has handled at least one Deploy/Stop/Restart call, so /health can
// surface a degraded deployment backend before agents start failing
// health checks against it.
func (m *Manager) DeployerHealth() (string, map[string]string) {
	return m.breakers.HealthStatus()
}

func (m *Manager) lockFor(agentID string) *agentLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[agentID]
	if !ok {
		l = &agentLock{}
		m.locks[agentID] = l
	}
	return l
}

// CreateAgent creates a new ManagedAgent in state "draft", or in
// "configuring" if cfg is already complete (a complete config skips draft;
// reaching "ready" still takes an UpdateConfig call).
func (m *Manager) CreateAgent(ctx context.Context, orgID string, cfg model.AgentConfig) (*model.ManagedAgent, error) {
	existing, err := m.st.ListAgentsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	check, err := m.tenants.CheckLimit(orgID, "agents", int64(len(existing)), true)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, fmt.Errorf("lifecycle: org %s agent limit reached (%d/%d)", orgID, check.Current, check.Limit)
	}

	now := time.Now().UTC()
	state := model.StateDraft
	if cfg.Complete() {
		state = model.StateConfiguring
	}
	agent := &model.ManagedAgent{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Config:    cfg,
		State:     state,
		Health:    model.AgentHealth{Status: model.HealthUnknown},
		Usage:     model.AgentUsage{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.st.UpsertAgent(ctx, agent); err != nil {
		return nil, err
	}

	agentCount := int64(len(existing) + 1)
	if err := m.tenants.RecordUsage(ctx, orgID, tenant.UsageDelta{SetAgents: &agentCount}); err != nil {
		slog.Warn("lifecycle: record agent usage failed", "error", err)
	}
	m.emitter.Emit("agent.created", "lifecycle-manager", agent.ID, map[string]interface{}{"orgId": orgID, "state": string(agent.State)})
	return agent, nil
}

// GetAgent fetches one agent by id.
func (m *Manager) GetAgent(ctx context.Context, agentID string) (*model.ManagedAgent, error) {
	a, err := m.st.GetAgent(ctx, agentID)
	if err == store.ErrNotFound {
		return nil, ErrAgentNotFound
	}
	return a, err
}

// GetAgentsByOrg lists every agent scoped to orgID.
func (m *Manager) GetAgentsByOrg(ctx context.Context, orgID string) ([]*model.ManagedAgent, error) {
	return m.st.ListAgentsByOrg(ctx, orgID)
}

// GetOrgUsage aggregates token/cost/tool-call totals across orgID's agents
// — a read projection over the same counters RecordToolCall maintains.
func (m *Manager) GetOrgUsage(ctx context.Context, orgID string) (model.AgentUsage, error) {
	agents, err := m.st.ListAgentsByOrg(ctx, orgID)
	if err != nil {
		return model.AgentUsage{}, err
	}
	var total model.AgentUsage
	for _, a := range agents {
		total.TokensToday += a.Usage.TokensToday
		total.TokensThisMonth += a.Usage.TokensThisMonth
		total.ToolCallsToday += a.Usage.ToolCallsToday
		total.ToolCallsThisMonth += a.Usage.ToolCallsThisMonth
		total.CostToday += a.Usage.CostToday
		total.CostThisMonth += a.Usage.CostThisMonth
		total.ExternalActionsToday += a.Usage.ExternalActionsToday
		total.ExternalActionsMonth += a.Usage.ExternalActionsMonth
		total.ErrorsToday += a.Usage.ErrorsToday
	}
	return total, nil
}

// transition validates and applies a single state change, appending to the
// agent's history and persisting.
func (m *Manager) transition(ctx context.Context, agent *model.ManagedAgent, to model.AgentState, triggeredBy, reason string) error {
	from := agent.State
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	agent.State = to
	agent.Version++
	agent.UpdatedAt = time.Now().UTC()
	agent.AppendTransition(model.StateTransition{
		From: from, To: to, Reason: reason, TriggeredBy: triggeredBy, Timestamp: agent.UpdatedAt,
	})
	if err := m.st.UpsertAgent(ctx, agent); err != nil {
		return err
	}
	if err := m.st.AppendStateTransition(ctx, agent.ID, len(agent.StateHistory)-1, &agent.StateHistory[len(agent.StateHistory)-1]); err != nil {
		slog.Warn("lifecycle: append state history failed", "agentId", agent.ID, "error", err)
	}
	if m.metrics != nil {
		m.metrics.RecordStateTransition(string(from), string(to))
	}
	m.emitter.Emit("agent.state_changed", "lifecycle-manager", agent.ID, map[string]interface{}{
		"orgId": agent.OrgID, "from": string(from), "to": string(to), "reason": reason, "triggeredBy": triggeredBy,
	})
	return nil
}

// UpdateConfig merges cfg into the agent's config. A draft/configuring
// agent that becomes complete advances to "ready"; a running/degraded
// agent instead enters "updating" and hot-applies via the deployer.
func (m *Manager) UpdateConfig(ctx context.Context, agentID string, cfg model.AgentConfig) (*model.ManagedAgent, error) {
	lock := m.lockFor(agentID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	agent, err := m.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	agent.Config = cfg
	switch agent.State {
	case model.StateDraft, model.StateConfiguring:
		if err := m.ensureState(ctx, agent, model.StateConfiguring, "system", "config updated"); err != nil {
			return nil, err
		}
		if cfg.Complete() {
			if err := m.transition(ctx, agent, model.StateReady, "system", "config complete"); err != nil {
				return nil, err
			}
		}
		return agent, nil
	case model.StateRunning, model.StateDegraded:
		return m.hotUpdate(ctx, agent, cfg)
	default:
		if err := m.st.UpsertAgent(ctx, agent); err != nil {
			return nil, err
		}
		return agent, nil
	}
}

// HotUpdate applies a config patch to a live agent without a full
// redeploy, per §4.8's dedicated hot-update operation: legal only from
// {running, degraded}. merged is the caller's already-merged AgentConfig
// (the API layer applies the JSON patch before calling in, same as
// UpdateConfig's merge step).
func (m *Manager) HotUpdate(ctx context.Context, agentID string, merged model.AgentConfig) (*model.ManagedAgent, error) {
	lock := m.lockFor(agentID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	agent, err := m.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.State != model.StateRunning && agent.State != model.StateDegraded {
		return nil, fmt.Errorf("%w: hot update only legal from running/degraded, agent is %s", ErrInvalidTransition, agent.State)
	}
	agent.Config = merged
	return m.hotUpdate(ctx, agent, merged)
}

// ensureState transitions agent to target only if it isn't already there.
func (m *Manager) ensureState(ctx context.Context, agent *model.ManagedAgent, target model.AgentState, by, reason string) error {
	if agent.State == target {
		return m.st.UpsertAgent(ctx, agent)
	}
	return m.transition(ctx, agent, target, by, reason)
}

// hotUpdate applies a config change to a live agent without a full
// redeploy cycle, per §4.8's "updating" state: it returns to the
// pre-update state (running or degraded) on success, or to degraded (not
// error — the agent is still live, just unconfirmed) if the deployer
// rejects the update.
func (m *Manager) hotUpdate(ctx context.Context, agent *model.ManagedAgent, cfg model.AgentConfig) (*model.ManagedAgent, error) {
	preUpdateState := agent.State
	if err := m.transition(ctx, agent, model.StateUpdating, "system", "hot config update"); err != nil {
		return nil, err
	}
	d, cb := m.deployerFor(agent.Config.Deployment.Target)
	raw, err := cb.Execute(func() (interface{}, error) { return d.UpdateConfig(ctx, agent.ID, agent.Config) })
	result, _ := raw.(deployer.Result)
	if err != nil || !result.Success {
		msg := result.Error
		if err != nil {
			msg = err.Error()
		}
		m.transition(ctx, agent, model.StateDegraded, "system", "hot update failed: "+msg)
		return agent, fmt.Errorf("lifecycle: hot update failed: %s", msg)
	}
	if err := m.transition(ctx, agent, preUpdateState, "system", "hot update applied"); err != nil {
		return nil, err
	}
	return agent, nil
}

// Deploy provisions and starts an agent: ready -> provisioning ->
// deploying -> starting -> running, stopping at "error" on any backend
// failure.
func (m *Manager) Deploy(ctx context.Context, agentID, triggeredBy string) (*model.ManagedAgent, error) {
	lock := m.lockFor(agentID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	agent, err := m.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.State != model.StateReady && agent.State != model.StateStopped && agent.State != model.StateError {
		return nil, fmt.Errorf("%w: cannot deploy from %s", ErrInvalidTransition, agent.State)
	}
	if !m.tenants.CanDeployTo(agent.OrgID, string(agent.Config.Deployment.Target)) {
		return nil, fmt.Errorf("lifecycle: org %s plan does not permit target %s", agent.OrgID, agent.Config.Deployment.Target)
	}

	if err := m.transition(ctx, agent, model.StateProvisioning, triggeredBy, "deploy requested"); err != nil {
		return nil, err
	}
	if err := m.transition(ctx, agent, model.StateDeploying, triggeredBy, ""); err != nil {
		return nil, err
	}

	d, cb := m.deployerFor(agent.Config.Deployment.Target)
	raw, err := cb.Execute(func() (interface{}, error) { return d.Deploy(ctx, agent.ID, agent.Config, nil) })
	result, _ := raw.(deployer.Result)
	if err != nil || !result.Success {
		msg := result.Error
		if err != nil {
			msg = err.Error()
		}
		m.transition(ctx, agent, model.StateError, "system", "deploy failed: "+msg)
		return agent, fmt.Errorf("lifecycle: deploy failed: %s", msg)
	}

	if err := m.transition(ctx, agent, model.StateStarting, triggeredBy, ""); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	agent.LastDeployedAt = &now

	healthy := m.waitForHealthy(ctx, agent, d, cb, m.deployHealthyBudget)
	final := model.StateRunning
	reason := "deployed"
	if !healthy {
		final = model.StateDegraded
		reason = "deployed, not healthy within budget"
	}
	if err := m.transition(ctx, agent, final, triggeredBy, reason); err != nil {
		return nil, err
	}

	if err := m.tenants.RecordUsage(ctx, agent.OrgID, tenant.UsageDelta{AddDeployments: 1}); err != nil {
		slog.Warn("lifecycle: record deployment usage failed", "error", err)
	}
	m.startHealthLoop(agent.ID)
	return agent, nil
}

// waitForHealthy polls the deployer's GetStatus until it reports healthy
// or budget elapses, per §5's waitForHealthy timeouts. It always checks at
// least once immediately, so a deployer that is healthy from the first
// poll never actually sleeps.
func (m *Manager) waitForHealthy(ctx context.Context, agent *model.ManagedAgent, d deployer.Deployer, cb *circuitbreaker.CircuitBreaker, budget time.Duration) bool {
	deadline := time.Now().Add(budget)
	for {
		raw, err := cb.Execute(func() (interface{}, error) { return d.GetStatus(ctx, agent.ID, agent.Config) })
		status, _ := raw.(deployer.StatusReport)
		if err == nil && status.HealthStatus == model.HealthHealthy {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.healthyPollInterval):
		}
	}
}

// Stop halts a running/degraded agent. Used both for operator-initiated
// stops and the budget.StopRequester hook the Budget Meter drives.
func (m *Manager) Stop(ctx context.Context, agentID, triggeredBy, reason string) error {
	lock := m.lockFor(agentID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	agent, err := m.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	switch agent.State {
	case model.StateRunning, model.StateDegraded, model.StateStarting, model.StateError:
	default:
		return nil
	}

	m.stopHealthLoop(agentID)
	d, cb := m.deployerFor(agent.Config.Deployment.Target)
	if _, err := cb.Execute(func() (interface{}, error) { return d.Stop(ctx, agent.ID, agent.Config) }); err != nil {
		slog.Warn("lifecycle: deployer stop returned error", "agentId", agentID, "error", err)
	}
	return m.transition(ctx, agent, model.StateStopped, triggeredBy, reason)
}

// Restart applies the §4.8 restart operation in place: running|degraded ->
// updating -> Deployer.restart -> waitForHealthy (30s) -> running|degraded;
// an exception from the deployer itself moves the agent to error rather
// than stopping and redeploying it from scratch.
func (m *Manager) Restart(ctx context.Context, agentID, triggeredBy string) (*model.ManagedAgent, error) {
	lock := m.lockFor(agentID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	agent, err := m.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.State != model.StateRunning && agent.State != model.StateDegraded {
		return nil, fmt.Errorf("%w: cannot restart from %s", ErrInvalidTransition, agent.State)
	}

	if err := m.transition(ctx, agent, model.StateUpdating, triggeredBy, "restart requested"); err != nil {
		return nil, err
	}

	d, cb := m.deployerFor(agent.Config.Deployment.Target)
	raw, err := cb.Execute(func() (interface{}, error) { return d.Restart(ctx, agent.ID, agent.Config) })
	result, _ := raw.(deployer.Result)
	if err != nil || !result.Success {
		msg := result.Error
		if err != nil {
			msg = err.Error()
		}
		m.transition(ctx, agent, model.StateError, "system", "restart failed: "+msg)
		return agent, fmt.Errorf("lifecycle: restart failed: %s", msg)
	}

	healthy := m.waitForHealthy(ctx, agent, d, cb, m.restartHealthyBudget)
	final := model.StateRunning
	reason := "restarted"
	if !healthy {
		final = model.StateDegraded
		reason = "restarted, not healthy within budget"
	}
	if err := m.transition(ctx, agent, final, triggeredBy, reason); err != nil {
		return nil, err
	}
	return agent, nil
}

// Destroy tears down an agent permanently: stops it if live, calls the
// deployer's Stop as a best-effort cleanup, and deletes the agent row. Rows
// that reference the agent (state history, schedule, tasks, clock records,
// approval requests) are not removed, and pending approvals are not denied.
func (m *Manager) Destroy(ctx context.Context, agentID, triggeredBy, reason string) error {
	lock := m.lockFor(agentID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	agent, err := m.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.State == model.StateRunning || agent.State == model.StateDegraded {
		m.stopHealthLoop(agentID)
		d, cb := m.deployerFor(agent.Config.Deployment.Target)
		if _, err := cb.Execute(func() (interface{}, error) { return d.Stop(ctx, agent.ID, agent.Config) }); err != nil {
			slog.Warn("lifecycle: deployer stop during destroy returned error", "agentId", agentID, "error", err)
		}
	}
	if err := m.transition(ctx, agent, model.StateDestroying, triggeredBy, reason); err != nil {
		return err
	}
	if err := m.st.DeleteAgent(ctx, agentID); err != nil {
		return err
	}
	m.emitter.Emit("agent.destroyed", "lifecycle-manager", agentID, map[string]interface{}{"orgId": agent.OrgID})
	return nil
}

// RecordToolCall is the integration point the Permission Engine's caller
// invokes after every tool call: it updates the agent's usage counters
// through the Budget Meter and, on a hard-stop threshold, auto-stops the
// agent via the Manager itself (satisfying budget.StopRequester).
func (m *Manager) RecordToolCall(ctx context.Context, agentID, toolID string, allowed, requiresApproval bool, report budget.ToolCallReport) error {
	agent, err := m.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	tokenExceeded, costExceeded, err := m.meter.RecordToolCall(ctx, agent.OrgID, agentID, toolID, &agent.Usage, allowed, requiresApproval, report)
	if err != nil {
		return err
	}
	if err := m.st.UpsertAgent(ctx, agent); err != nil {
		return err
	}
	if err := m.tenants.RecordUsage(ctx, agent.OrgID, tenant.UsageDelta{AddTokens: report.TokensUsed, AddCost: report.CostUsd}); err != nil {
		slog.Warn("lifecycle: record org usage failed", "error", err)
	}
	return budget.EnforceHardStop(ctx, m, agentID, tokenExceeded, costExceeded)
}

// startHealthLoop launches the per-agent Health Loop goroutine, cancelling
// any prior one for the same agent first.
func (m *Manager) startHealthLoop(agentID string) {
	m.stopHealthLoop(agentID)
	ctx, cancel := context.WithCancel(context.Background())
	m.healthMu.Lock()
	m.healthCancel[agentID] = cancel
	m.healthMu.Unlock()

	go func() {
		ticker := time.NewTicker(m.healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeOnce(ctx, agentID)
			}
		}
	}()
}

func (m *Manager) stopHealthLoop(agentID string) {
	m.healthMu.Lock()
	cancel, ok := m.healthCancel[agentID]
	delete(m.healthCancel, agentID)
	m.healthMu.Unlock()
	if ok {
		cancel()
	}
}

// probeOnce runs a single Health Loop iteration: fetch the deployer's
// status, append it to the bounded recent-checks window, and escalate
// through degraded to an auto-recovery restart on repeated failures.
func (m *Manager) probeOnce(ctx context.Context, agentID string) {
	start := time.Now()
	agent, err := m.GetAgent(ctx, agentID)
	if err != nil || (agent.State != model.StateRunning && agent.State != model.StateDegraded) {
		return
	}

	d, cb := m.deployerFor(agent.Config.Deployment.Target)
	raw, err := cb.Execute(func() (interface{}, error) { return d.GetStatus(ctx, agentID, agent.Config) })
	status, _ := raw.(deployer.StatusReport)
	if m.metrics != nil {
		m.metrics.HealthCheckDuration.Observe(time.Since(start).Seconds())
	}

	check := model.HealthCheck{CheckedAt: time.Now().UTC()}
	if err != nil {
		check.Status = model.HealthUnhealthy
		check.Error = err.Error()
	} else {
		check.Status = status.HealthStatus
		check.UptimeSec = status.UptimeSec
	}

	if check.Status == model.HealthHealthy {
		agent.Health.ConsecutiveFailures = 0
	} else {
		agent.Health.ConsecutiveFailures++
	}
	agent.Health.Status = check.Status
	agent.Health.RecentChecks = append(agent.Health.RecentChecks, check)
	if len(agent.Health.RecentChecks) > model.MaxHealthChecks {
		agent.Health.RecentChecks = agent.Health.RecentChecks[len(agent.Health.RecentChecks)-model.MaxHealthChecks:]
	}
	now := time.Now().UTC()
	agent.LastHealthCheck = &now

	if err := m.st.UpsertAgent(ctx, agent); err != nil {
		slog.Warn("lifecycle: persist health check failed", "agentId", agentID, "error", err)
	}
	m.emitter.Emit("agent.health_checked", "lifecycle-manager", agentID, map[string]interface{}{
		"orgId": agent.OrgID, "status": string(check.Status), "consecutiveFailures": agent.Health.ConsecutiveFailures,
	})

	switch {
	case agent.Health.ConsecutiveFailures >= m.unhealthyThreshold:
		m.autoRecover(ctx, agent)
	case agent.Health.ConsecutiveFailures >= m.degradedThreshold:
		lock := m.lockFor(agentID)
		lock.mu.Lock()
		if agent.State == model.StateRunning {
			m.transition(ctx, agent, model.StateDegraded, "health-loop", "consecutive health check failures")
		}
		lock.mu.Unlock()
	case agent.Health.ConsecutiveFailures == 0 && agent.State == model.StateDegraded:
		lock := m.lockFor(agentID)
		lock.mu.Lock()
		if err := m.transition(ctx, agent, model.StateRunning, "health-loop", "health recovered"); err == nil {
			m.emitter.Emit("agent.auto_recovered", "lifecycle-manager", agentID, map[string]interface{}{
				"orgId": agent.OrgID, "action": "healthy",
			})
		}
		lock.mu.Unlock()
	}
}

// autoRecover attempts one restart when an agent has crossed the
// unhealthy threshold (§4.8's Health Loop escalation, distinct from the
// public Restart operation): it calls the deployer's restart directly,
// moving the agent to "starting" and resetting the failure counter on
// success, or to "error" if the deployer call itself raises.
func (m *Manager) autoRecover(ctx context.Context, agent *model.ManagedAgent) {
	lock := m.lockFor(agent.ID)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	if agent.State != model.StateRunning && agent.State != model.StateDegraded {
		return
	}

	d, cb := m.deployerFor(agent.Config.Deployment.Target)
	raw, err := cb.Execute(func() (interface{}, error) { return d.Restart(ctx, agent.ID, agent.Config) })
	result, _ := raw.(deployer.Result)
	if err != nil || !result.Success {
		msg := result.Error
		if err != nil {
			msg = err.Error()
		}
		slog.Warn("lifecycle: auto-recovery restart failed", "agentId", agent.ID, "error", msg)
		m.transition(ctx, agent, model.StateError, "health-loop", "auto-recovery restart failed: "+msg)
		return
	}

	agent.Health.ConsecutiveFailures = 0
	if err := m.transition(ctx, agent, model.StateStarting, "health-loop", "auto-recovery restart"); err != nil {
		slog.Warn("lifecycle: auto-recovery transition failed", "agentId", agent.ID, "error", err)
		return
	}
	m.emitter.Emit("agent.auto_recovered", "lifecycle-manager", agent.ID, map[string]interface{}{
		"orgId": agent.OrgID, "action": "restart",
	})
}

// RefreshAgentGauges recomputes the per-org, per-state agent counts onto
// the Prometheus gauge — invoked periodically by the Workforce Scheduler's
// tick rather than on every mutation, to bound cardinality churn.
func (m *Manager) RefreshAgentGauges(ctx context.Context, orgIDs []string) {
	if m.metrics == nil {
		return
	}
	for _, orgID := range orgIDs {
		agents, err := m.st.ListAgentsByOrg(ctx, orgID)
		if err != nil {
			continue
		}
		counts := make(map[model.AgentState]int)
		for _, a := range agents {
			counts[a.State]++
		}
		for _, s := range []model.AgentState{
			model.StateDraft, model.StateConfiguring, model.StateReady, model.StateProvisioning,
			model.StateDeploying, model.StateStarting, model.StateRunning, model.StateDegraded,
			model.StateStopped, model.StateError, model.StateUpdating, model.StateDestroying,
		} {
			m.metrics.SetAgentsByState(orgID, string(s), float64(counts[s]))
		}
	}
}

// ProfileLookup adapts the store's profile accessor into a
// permission.ProfileLookup, resolving an agent's bound PermissionProfile
// by its AgentConfig.PermissionProfileID. The Permission Engine's
// interface carries no context, so lookups use a background one — these
// are local store reads, never network calls.
func (m *Manager) ProfileLookup() permission.ProfileLookup {
	return func(agentID string) (*model.PermissionProfile, bool) {
		ctx := context.Background()
		agent, err := m.GetAgent(ctx, agentID)
		if err != nil || agent.Config.PermissionProfileID == "" {
			return nil, false
		}
		profile, err := m.st.GetProfile(ctx, agent.Config.PermissionProfileID)
		if err != nil {
			return nil, false
		}
		return profile, true
	}
}
