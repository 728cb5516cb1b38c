package orchestrator

import (
	"time"

	"crew/internal/agent/ports"
	"crew/internal/sandbox"
)

// Status is the lifecycle state of one spawned agent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SubAgentState is one registry row: everything the orchestrator knows about
// a spawned agent. Snapshots returned from the API are copies.
type SubAgentState struct {
	AgentID   string
	Task      string
	Status    Status
	StartTime time.Time
	EndTime   time.Time
	Result    *ports.AgentResult
	Error     string
}

// TaskSpec is the input to batch scheduling. DependsOn names other TaskSpec
// IDs within the same batch.
type TaskSpec struct {
	ID        string                   `mapstructure:"id"`
	Task      string                   `mapstructure:"task"`
	Context   string                   `mapstructure:"context"`
	Config    *sandbox.ExecutionConfig `mapstructure:"-"`
	DependsOn []string                 `mapstructure:"dependsOn"`
}

// OrchestrationResult aggregates one batch run. Success is true only when
// every state completed and no errors accumulated.
type OrchestrationResult struct {
	Success       bool
	States        []SubAgentState
	TotalDuration time.Duration
	TotalTokens   int
	TotalCost     float64
	Errors        []string
}

// Stats counts registry entries by status.
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Total     int
}
