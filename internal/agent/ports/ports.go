package ports

import (
	"context"

	"crew/internal/sandbox"
)

// AgentResult is the outcome of one agent task.
type AgentResult struct {
	Success       bool
	FinalResponse string
	TotalTokens   int
	TotalCost     float64
	Steps         int
}

// Agent is the unit of work the orchestrator schedules. Implementations run
// a single task to completion and must honor context cancellation.
type Agent interface {
	Execute(ctx context.Context, task string, taskContext string) (*AgentResult, error)
	Stop()
}

// AgentFactory builds agents on demand, one per spawned sub-agent slot. A
// nil cfg means the factory's default execution config.
type AgentFactory func(ctx context.Context, agentID string, cfg *sandbox.ExecutionConfig) (Agent, error)
