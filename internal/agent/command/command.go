// Package command provides an Agent that treats each task as a shell command
// and runs it inside a sandbox. It is the reference agent used by the CLI;
// LLM-driven agents plug into the same port.
package command

import (
	"context"
	"strings"
	"sync"

	"crew/internal/agent/ports"
	"crew/internal/logging"
	"crew/internal/sandbox"
)

// Agent executes one task at a time inside its executor.
type Agent struct {
	executor sandbox.Executor
	logger   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New wraps an executor as an agent.
func New(executor sandbox.Executor, logger logging.Logger) *Agent {
	return &Agent{
		executor: executor,
		logger:   logging.OrNop(logger),
	}
}

// Execute runs the task as a shell command in the sandbox. A non-zero exit
// code is reported through AgentResult.Success, not as an error.
func (a *Agent) Execute(ctx context.Context, task string, taskContext string) (*ports.AgentResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	if err := a.executor.Initialize(ctx); err != nil {
		return nil, err
	}

	res, err := a.executor.Execute(ctx, task)
	if err != nil {
		return nil, err
	}

	return &ports.AgentResult{
		Success:       res.ExitCode == 0,
		FinalResponse: responseText(res),
		Steps:         1,
	}, nil
}

// Stop cancels the in-flight execution, if any. The sandbox itself is left
// for the owner to clean up.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Cleanup tears down the agent's sandbox.
func (a *Agent) Cleanup(ctx context.Context) error {
	return a.executor.Cleanup(ctx)
}

func responseText(res *sandbox.ExecutionResult) string {
	if res.ExitCode == 0 {
		return strings.TrimRight(res.Stdout, "\n")
	}
	if msg := strings.TrimSpace(res.Stderr); msg != "" {
		return msg
	}
	return strings.TrimRight(res.Stdout, "\n")
}

// NewFactory returns an agent factory that gives each spawned agent its own
// executor. Agents spawned without a config of their own get defaultCfg.
func NewFactory(sf *sandbox.Factory, defaultCfg *sandbox.ExecutionConfig, logger logging.Logger) ports.AgentFactory {
	return func(ctx context.Context, agentID string, cfg *sandbox.ExecutionConfig) (ports.Agent, error) {
		if cfg == nil {
			cfg = defaultCfg
		}
		executor, err := sf.CreateExecutor(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return New(executor, logger), nil
	}
}
