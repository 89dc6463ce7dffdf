package deployer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ocx/workforce/internal/model"
)

func TestRegistryResolvesLocalAndSimulatedByTarget(t *testing.T) {
	r := NewRegistry()

	require.IsType(t, &LocalProcessDeployer{}, r.For(model.TargetLocal))
	require.IsType(t, &SimulatedDeployer{}, r.For(model.TargetDocker))
	require.IsType(t, &SimulatedDeployer{}, r.For(model.TargetAWS))
}

func TestSimulatedDeployerTracksRunningState(t *testing.T) {
	d := NewSimulatedDeployer()
	ctx := context.Background()
	cfg := model.AgentConfig{}

	status, err := d.GetStatus(ctx, "agent-1", cfg)
	require.NoError(t, err)
	require.Equal(t, RunStopped, status.Status)

	result, err := d.Deploy(ctx, "agent-1", cfg, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	status, err = d.GetStatus(ctx, "agent-1", cfg)
	require.NoError(t, err)
	require.Equal(t, RunRunning, status.Status)
	require.Equal(t, model.HealthHealthy, status.HealthStatus)

	result, err = d.Stop(ctx, "agent-1", cfg)
	require.NoError(t, err)
	require.True(t, result.Success)

	status, err = d.GetStatus(ctx, "agent-1", cfg)
	require.NoError(t, err)
	require.Equal(t, RunStopped, status.Status)
}

func TestLocalProcessDeployerRunsAndStopsCommand(t *testing.T) {
	d := NewLocalProcessDeployer()
	ctx := context.Background()
	cfg := model.AgentConfig{Deployment: model.DeploymentConfig{Command: "sleep 30"}}

	result, err := d.Deploy(ctx, "agent-2", cfg, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	status, err := d.GetStatus(ctx, "agent-2", cfg)
	require.NoError(t, err)
	require.Equal(t, RunRunning, status.Status)

	result, err = d.Stop(ctx, "agent-2", cfg)
	require.NoError(t, err)
	require.True(t, result.Success)

	status, err = d.GetStatus(ctx, "agent-2", cfg)
	require.NoError(t, err)
	require.Equal(t, RunStopped, status.Status)
}

func TestLocalProcessDeployerStopOnUnknownAgentIsNoop(t *testing.T) {
	d := NewLocalProcessDeployer()
	result, err := d.Stop(context.Background(), "never-deployed", model.AgentConfig{})
	require.NoError(t, err)
	require.True(t, result.Success)
}
