package contracts

import "time"

// AgentStatus is the operational status of a registered agent.
type AgentStatus string

const (
	AgentActive      AgentStatus = "ACTIVE"
	AgentPaused      AgentStatus = "PAUSED"
	AgentDeactivated AgentStatus = "DEACTIVATED"
)

// AgentState is the per-agent operational record. It is created on agent
// registration, updated only through versioned writes against the state
// store, and torn down on deactivation. There is no ambient global copy;
// every caller holds an explicit store handle.
type AgentState struct {
	AgentID      string      `json:"agent_id"`
	Status       AgentStatus `json:"status"`
	PendingTasks int         `json:"pending_tasks"`
	WalletID     string      `json:"wallet_id"`
	Version      int64       `json:"version"`
	RegisteredAt time.Time   `json:"registered_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
