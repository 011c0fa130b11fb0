package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
)

func TestAgentRegistration(t *testing.T) {
	f := newFixture(t, passScorer{proceed: true}, Options{})
	ctx := context.Background()

	state, err := f.orch.RegisterAgent(ctx, "agent-1", "wallet-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.AgentActive, state.Status)
	assert.Equal(t, 0, state.PendingTasks)
	assert.Equal(t, int64(1), state.Version)

	_, err = f.orch.RegisterAgent(ctx, "agent-1", "wallet-1")
	assert.Equal(t, "RES_ALREADY_EXISTS", faults.CodeOf(err))

	_, err = f.orch.RegisterAgent(ctx, "", "wallet-1")
	assert.Equal(t, "VAL_MISSING_REQUIRED_FIELD", faults.CodeOf(err))
}

func TestAgentTaskCounting(t *testing.T) {
	f := newFixture(t, passScorer{proceed: true}, Options{AgentID: "agent-1"})
	ctx := context.Background()

	_, err := f.orch.RegisterAgent(ctx, "agent-1", "")
	require.NoError(t, err)

	h, err := f.orch.Submit(ctx, f.trend.ID)
	require.NoError(t, err)
	f.orch.Wait()

	st, err := f.orch.Status(ctx, h.ContentID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateDistributionTracking, st.State)

	// The pending count returns to zero once the workflow finishes.
	agent, err := f.orch.Agent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, agent.PendingTasks)
	assert.Greater(t, agent.Version, int64(2), "admission and release are versioned writes")
}

func TestPausedAgentRejectsSubmissions(t *testing.T) {
	f := newFixture(t, passScorer{proceed: true}, Options{AgentID: "agent-1"})
	ctx := context.Background()

	_, err := f.orch.RegisterAgent(ctx, "agent-1", "")
	require.NoError(t, err)
	require.NoError(t, f.orch.PauseAgent(ctx, "agent-1"))

	_, err = f.orch.Submit(ctx, f.trend.ID)
	assert.Equal(t, "RES_RESOURCE_LOCKED", faults.CodeOf(err))

	require.NoError(t, f.orch.ResumeAgent(ctx, "agent-1"))
	_, err = f.orch.Submit(ctx, f.trend.ID)
	require.NoError(t, err)
	f.orch.Wait()
}

func TestSubmitForUnregisteredAgent(t *testing.T) {
	f := newFixture(t, passScorer{proceed: true}, Options{AgentID: "ghost"})
	_, err := f.orch.Submit(context.Background(), f.trend.ID)
	assert.Equal(t, "RES_NOT_FOUND", faults.CodeOf(err))
}

func TestAgentDeactivation(t *testing.T) {
	f := newFixture(t, passScorer{proceed: true}, Options{})
	ctx := context.Background()

	_, err := f.orch.RegisterAgent(ctx, "agent-1", "")
	require.NoError(t, err)
	require.NoError(t, f.orch.DeactivateAgent(ctx, "agent-1"))

	_, err = f.orch.Agent(ctx, "agent-1")
	assert.Equal(t, "RES_NOT_FOUND", faults.CodeOf(err))
}

func TestDeactivationBlockedByPendingTasks(t *testing.T) {
	f := newFixture(t, passScorer{proceed: true}, Options{})
	ctx := context.Background()

	_, err := f.orch.RegisterAgent(ctx, "agent-1", "")
	require.NoError(t, err)

	// Simulate a running workflow.
	require.NoError(t, f.orch.admitAgentTask(ctx, "agent-1"))

	err = f.orch.DeactivateAgent(ctx, "agent-1")
	assert.Equal(t, "RES_RESOURCE_LOCKED", faults.CodeOf(err))

	f.orch.releaseAgentTask(ctx, "agent-1")
	require.NoError(t, f.orch.DeactivateAgent(ctx, "agent-1"))
}
