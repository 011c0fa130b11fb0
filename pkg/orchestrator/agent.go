package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/retry"
)

const agentPrefix = "agent:"

// AgentKey returns the state-store key for an agent id.
func AgentKey(agentID string) string { return agentPrefix + agentID }

// RegisterAgent creates the operational record for an agent. Registering an
// existing agent id fails with RES_ALREADY_EXISTS.
func (o *Orchestrator) RegisterAgent(ctx context.Context, agentID, walletID string) (*contracts.AgentState, error) {
	if agentID == "" {
		return nil, faults.New("VAL_MISSING_REQUIRED_FIELD", "agent_id is required").WithField("agent_id")
	}
	now := o.clock().UTC()
	state := &contracts.AgentState{
		AgentID:      agentID,
		Status:       contracts.AgentActive,
		WalletID:     walletID,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode agent %q: %w", agentID, err)
	}
	rec, err := o.store.WriteIfVersion(ctx, AgentKey(agentID), 0, data)
	if err != nil {
		if faults.CodeOf(err) == "STATE_CONFLICT" {
			return nil, faults.Newf("RES_ALREADY_EXISTS", "agent %q already registered", agentID)
		}
		return nil, err
	}
	state.Version = rec.Version
	return state, nil
}

// Agent loads an agent's operational record.
func (o *Orchestrator) Agent(ctx context.Context, agentID string) (*contracts.AgentState, error) {
	rec, err := o.store.Get(ctx, AgentKey(agentID))
	if err != nil {
		return nil, err
	}
	var state contracts.AgentState
	if err := json.Unmarshal(rec.Data, &state); err != nil {
		return nil, fmt.Errorf("decode agent %q: %w", agentID, err)
	}
	state.Version = rec.Version
	return &state, nil
}

// PauseAgent stops the agent from accepting new workflows; running ones
// finish.
func (o *Orchestrator) PauseAgent(ctx context.Context, agentID string) error {
	return o.mutateAgent(ctx, agentID, func(s *contracts.AgentState) error {
		s.Status = contracts.AgentPaused
		return nil
	})
}

// ResumeAgent returns a paused agent to service.
func (o *Orchestrator) ResumeAgent(ctx context.Context, agentID string) error {
	return o.mutateAgent(ctx, agentID, func(s *contracts.AgentState) error {
		s.Status = contracts.AgentActive
		return nil
	})
}

// DeactivateAgent tears the record down. An agent with pending tasks cannot
// be deactivated.
func (o *Orchestrator) DeactivateAgent(ctx context.Context, agentID string) error {
	state, err := o.Agent(ctx, agentID)
	if err != nil {
		return err
	}
	if state.PendingTasks > 0 {
		return faults.Newf("RES_RESOURCE_LOCKED", "agent %q has %d pending tasks", agentID, state.PendingTasks)
	}
	return o.store.Delete(ctx, AgentKey(agentID))
}

// mutateAgent applies fn under optimistic locking, re-reading and reapplying
// on version conflict until the conflict policy is exhausted.
func (o *Orchestrator) mutateAgent(ctx context.Context, agentID string, fn func(*contracts.AgentState) error) error {
	return o.exec.Do(ctx, retry.Conflict, AgentKey(agentID), func(ctx context.Context) error {
		state, err := o.Agent(ctx, agentID)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		state.UpdatedAt = o.clock().UTC()
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode agent %q: %w", agentID, err)
		}
		_, err = o.store.WriteIfVersion(ctx, AgentKey(agentID), state.Version, data)
		return err
	})
}

// admitAgentTask gates a new workflow on the agent being active and counts
// it as pending.
func (o *Orchestrator) admitAgentTask(ctx context.Context, agentID string) error {
	return o.mutateAgent(ctx, agentID, func(s *contracts.AgentState) error {
		if s.Status != contracts.AgentActive {
			return faults.Newf("RES_RESOURCE_LOCKED", "agent %q is %s", agentID, s.Status)
		}
		s.PendingTasks++
		return nil
	})
}

// releaseAgentTask decrements the pending count when a workflow ends.
func (o *Orchestrator) releaseAgentTask(ctx context.Context, agentID string) {
	err := o.mutateAgent(ctx, agentID, func(s *contracts.AgentState) error {
		if s.PendingTasks > 0 {
			s.PendingTasks--
		}
		return nil
	})
	if err != nil {
		o.log.Warn("pending task release failed", "agent_id", agentID, "error", err)
	}
}
