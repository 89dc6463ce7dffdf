// Package deployer is the Deployer collaborator contract (§4.7): the
// abstract deploy/stop/restart/updateConfig/getStatus surface the Agent
// Lifecycle Manager drives over an agent's deployment target. Backend
// specifics (the actual VPS/Fly/AWS/GCP provisioning calls) are the kind
// of "skill adapter" the spec's Non-goals exclude — this package owns the
// contract plus one real backend (local OS processes) and a simulated
// backend for every remote target string the Tenant Manager's plan limits
// gate on.
//
// Grounded on the teacher's internal/ghostpool/pool_manager.go lifecycle
// (Get/Put/createContainer/destroyContainer, a maintainer goroutine,
// process-state tracked in a guarded map), generalized away from the
// Docker Engine API — no component in this control plane shells out to a
// container runtime, so the dependency is dropped rather than faked — to
// os/exec-managed local processes for the one target the core can
// actually supervise end-to-end.
package deployer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/ocx/workforce/internal/model"
)

// RunStatus is the coarse process-level status GetStatus reports.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunStopped RunStatus = "stopped"
	RunCrashed RunStatus = "crashed"
	RunUnknown RunStatus = "unknown"
)

// Result is the outcome of a Deploy/Stop/Restart/UpdateConfig call.
type Result struct {
	Success bool
	Error   string
}

// StatusReport is what GetStatus returns.
type StatusReport struct {
	Status       RunStatus
	HealthStatus model.HealthStatus
	UptimeSec    int64
	Metrics      map[string]interface{}
}

// ProgressFunc reports human-readable deploy stage names as they happen,
// e.g. "pulling", "starting". The local deployer reports none; kept for
// interface parity with a real provisioning backend.
type ProgressFunc func(stage string)

// Deployer is the contract every deployment target backend implements.
// Every method is keyed by agentID so the backend can track its own
// running-instance state; cfg is the agent's current DeploymentConfig.
type Deployer interface {
	Deploy(ctx context.Context, agentID string, cfg model.AgentConfig, progress ProgressFunc) (Result, error)
	Stop(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error)
	Restart(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error)
	UpdateConfig(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error)
	GetStatus(ctx context.Context, agentID string, cfg model.AgentConfig) (StatusReport, error)
}

// Registry resolves the right Deployer for an agent's deployment target.
type Registry struct {
	local     *LocalProcessDeployer
	stub      *SimulatedDeployer
	overrides map[model.DeploymentTarget]Deployer
}

// NewRegistry builds a Registry backed by a real local-process deployer
// and a simulated deployer for every other declared target.
func NewRegistry() *Registry {
	return &Registry{
		local: NewLocalProcessDeployer(),
		stub:  NewSimulatedDeployer(),
	}
}

// For resolves the Deployer backend for target.
func (r *Registry) For(target model.DeploymentTarget) Deployer {
	if r.overrides != nil {
		if d, ok := r.overrides[target]; ok {
			return d
		}
	}
	switch target {
	case model.TargetLocal:
		return r.local
	default:
		return r.stub
	}
}

// SetOverride pins target to a specific Deployer, bypassing the
// local/simulated split. Used by tests that need deterministic
// success/failure/health sequences the simulated backend doesn't model.
func (r *Registry) SetOverride(target model.DeploymentTarget, d Deployer) {
	if r.overrides == nil {
		r.overrides = make(map[model.DeploymentTarget]Deployer)
	}
	r.overrides[target] = d
}

// LocalProcessDeployer runs an agent's DeploymentConfig.Command as a real
// OS process, tracked by PID — the one backend this control plane
// supervises directly rather than delegating to a remote provisioning API.
type LocalProcessDeployer struct {
	mu   sync.Mutex
	runs map[string]*localRun
}

type localRun struct {
	cmd       *exec.Cmd
	startedAt time.Time
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	exited    bool
	exitErr   error
}

// NewLocalProcessDeployer creates an empty process tracker.
func NewLocalProcessDeployer() *LocalProcessDeployer {
	return &LocalProcessDeployer{runs: make(map[string]*localRun)}
}

// Deploy starts cfg.Command (defaulting to "sleep infinity" style keepalive
// when empty, matching ghostpool's "keep alive" placeholder command) as a
// child process.
func (d *LocalProcessDeployer) Deploy(ctx context.Context, agentID string, cfg model.AgentConfig, progress ProgressFunc) (Result, error) {
	if progress != nil {
		progress("starting")
	}
	command := cfg.Deployment.Command
	if command == "" {
		command = "sleep infinity"
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	for k, v := range cfg.Deployment.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	run := &localRun{startedAt: time.Now().UTC()}
	cmd.Stdout = &run.stdout
	cmd.Stderr = &run.stderr
	run.cmd = cmd

	if err := cmd.Start(); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	go func() {
		err := cmd.Wait()
		d.mu.Lock()
		run.exited = true
		run.exitErr = err
		d.mu.Unlock()
	}()

	d.mu.Lock()
	d.runs[agentID] = run
	d.mu.Unlock()
	return Result{Success: true}, nil
}

// Stop kills the spawned process (not its process group) and forgets it.
func (d *LocalProcessDeployer) Stop(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error) {
	d.mu.Lock()
	run, ok := d.runs[agentID]
	delete(d.runs, agentID)
	d.mu.Unlock()
	if !ok || run.cmd.Process == nil {
		return Result{Success: true}, nil
	}
	if err := run.cmd.Process.Kill(); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true}, nil
}

// Restart stops then redeploys.
func (d *LocalProcessDeployer) Restart(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error) {
	if _, err := d.Stop(ctx, agentID, cfg); err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return d.Deploy(ctx, agentID, cfg, nil)
}

// UpdateConfig restarts the process with the new config — local processes
// have no hot-reload channel, so a config update is a restart.
func (d *LocalProcessDeployer) UpdateConfig(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error) {
	return d.Restart(ctx, agentID, cfg)
}

// GetStatus inspects the tracked process's liveness.
func (d *LocalProcessDeployer) GetStatus(ctx context.Context, agentID string, cfg model.AgentConfig) (StatusReport, error) {
	d.mu.Lock()
	run, ok := d.runs[agentID]
	d.mu.Unlock()
	if !ok {
		return StatusReport{Status: RunStopped, HealthStatus: model.HealthUnknown}, nil
	}

	d.mu.Lock()
	exited, exitErr := run.exited, run.exitErr
	started := run.startedAt
	d.mu.Unlock()

	if exited {
		status := RunStopped
		health := model.HealthUnhealthy
		if exitErr != nil {
			status = RunCrashed
		}
		return StatusReport{Status: status, HealthStatus: health}, nil
	}
	return StatusReport{
		Status:       RunRunning,
		HealthStatus: model.HealthHealthy,
		UptimeSec:    int64(time.Since(started).Seconds()),
	}, nil
}

// SimulatedDeployer backs every remote deployment target (docker, systemd,
// vps, fly, railway, aws, gcp, azure) this control plane declares but does
// not itself provision — the real backend is the kind of skill-adapter
// integration the spec's Non-goals exclude. It tracks a plausible running
// state so the Lifecycle Manager's state machine and health loop behave
// the same regardless of target.
type SimulatedDeployer struct {
	mu      sync.Mutex
	running map[string]time.Time
}

// NewSimulatedDeployer creates an empty simulated-state tracker.
func NewSimulatedDeployer() *SimulatedDeployer {
	return &SimulatedDeployer{running: make(map[string]time.Time)}
}

func (d *SimulatedDeployer) Deploy(ctx context.Context, agentID string, cfg model.AgentConfig, progress ProgressFunc) (Result, error) {
	if progress != nil {
		progress("provisioning")
		progress("starting")
	}
	d.mu.Lock()
	d.running[agentID] = time.Now().UTC()
	d.mu.Unlock()
	return Result{Success: true}, nil
}

func (d *SimulatedDeployer) Stop(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error) {
	d.mu.Lock()
	delete(d.running, agentID)
	d.mu.Unlock()
	return Result{Success: true}, nil
}

func (d *SimulatedDeployer) Restart(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error) {
	d.mu.Lock()
	d.running[agentID] = time.Now().UTC()
	d.mu.Unlock()
	return Result{Success: true}, nil
}

func (d *SimulatedDeployer) UpdateConfig(ctx context.Context, agentID string, cfg model.AgentConfig) (Result, error) {
	return Result{Success: true}, nil
}

func (d *SimulatedDeployer) GetStatus(ctx context.Context, agentID string, cfg model.AgentConfig) (StatusReport, error) {
	d.mu.Lock()
	started, ok := d.running[agentID]
	d.mu.Unlock()
	if !ok {
		return StatusReport{Status: RunStopped, HealthStatus: model.HealthUnknown}, nil
	}
	return StatusReport{
		Status:       RunRunning,
		HealthStatus: model.HealthHealthy,
		UptimeSec:    int64(time.Since(started).Seconds()),
	}, nil
}
