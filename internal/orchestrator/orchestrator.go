package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"crew/internal/agent/ports"
	"crew/internal/async"
	crewerrors "crew/internal/errors"
	"crew/internal/logging"
	"crew/internal/sandbox"
	"crew/internal/utils/id"
)

const (
	defaultMaxParallel = 3
	resultPollInterval = 50 * time.Millisecond
)

// entry is one registry row plus the live agent handle. The entry mutex
// guards the state; the registry mutex guards only the map itself.
type entry struct {
	mu       sync.Mutex
	state    SubAgentState
	agent    ports.Agent
	inFlight bool
}

func (e *entry) snapshot() SubAgentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Orchestrator schedules agent executions across sequential, parallel, and
// dependency-ordered batches. The registry is the only shared mutable state
// in this layer; maxParallel bounds concurrent executions with a counting
// semaphore so a panic or error cannot leak a permit.
type Orchestrator struct {
	factory     ports.AgentFactory
	sem         *semaphore.Weighted
	maxParallel int
	logger      logging.Logger
	metrics     *Metrics

	mu     sync.RWMutex
	agents map[string]*entry
	order  []string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMaxParallel bounds concurrent executions. Values below 1 keep the
// default.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxParallel = n
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrNop(logger) }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator around an agent factory.
func New(factory ports.AgentFactory, opts ...Option) (*Orchestrator, error) {
	if factory == nil {
		return nil, crewerrors.NewConfigurationError("agent factory is required")
	}
	o := &Orchestrator{
		factory:     factory,
		maxParallel: defaultMaxParallel,
		logger:      logging.Nop(),
		agents:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = defaultMetrics()
	}
	o.sem = semaphore.NewWeighted(int64(o.maxParallel))
	return o, nil
}

// MaxParallel reports the configured concurrency bound.
func (o *Orchestrator) MaxParallel() int { return o.maxParallel }

// Spawn constructs an agent and registers it as pending. It never blocks and
// never executes. A nil cfg gives the agent the factory's default sandbox.
func (o *Orchestrator) Spawn(ctx context.Context, task string, cfg *sandbox.ExecutionConfig) (string, error) {
	agentID := id.NewAgentID()
	agent, err := o.factory(ctx, agentID, cfg)
	if err != nil {
		return "", fmt.Errorf("spawn agent: %w", err)
	}

	o.mu.Lock()
	o.agents[agentID] = &entry{
		state: SubAgentState{
			AgentID: agentID,
			Task:    task,
			Status:  StatusPending,
		},
		agent: agent,
	}
	o.order = append(o.order, agentID)
	o.mu.Unlock()

	o.metrics.IncSpawned()
	o.logger.Debug("spawned agent %s for task %q", agentID, truncate(task, 80))
	return agentID, nil
}

// Execute blocks until a slot is free, runs the agent's task, records the
// outcome, and returns the result. The underlying error is re-thrown to the
// caller after it is recorded in the state. A second Execute for an agent
// already in flight or already finished is rejected.
func (o *Orchestrator) Execute(ctx context.Context, agentID, taskContext string) (*ports.AgentResult, error) {
	ent, err := o.lookup(agentID)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	if ent.inFlight {
		ent.mu.Unlock()
		return nil, fmt.Errorf("agent %s already has an execution in flight", agentID)
	}
	if ent.state.Status.Terminal() {
		ent.mu.Unlock()
		return nil, fmt.Errorf("agent %s already finished with status %s", agentID, ent.state.Status)
	}
	ent.inFlight = true
	task := ent.state.Task
	agent := ent.agent
	ent.mu.Unlock()

	waitStart := time.Now()
	if err := o.sem.Acquire(ctx, 1); err != nil {
		ent.mu.Lock()
		ent.inFlight = false
		ent.mu.Unlock()
		return nil, fmt.Errorf("acquire execution slot: %w", err)
	}
	o.metrics.ObservePermitWait(time.Since(waitStart))
	o.metrics.IncRunning()

	start := time.Now()
	ent.mu.Lock()
	ent.state.Status = StatusRunning
	ent.state.StartTime = start
	ent.mu.Unlock()

	var result *ports.AgentResult
	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("agent panicked: %v", r)
				o.logger.Error("agent %s panicked: %v", agentID, r)
			}
		}()
		result, execErr = agent.Execute(ctx, task, taskContext)
	}()

	// The permit is released on every path, including panic and error.
	o.sem.Release(1)
	o.metrics.DecRunning()

	end := time.Now()
	ent.mu.Lock()
	ent.state.EndTime = end
	ent.inFlight = false
	switch {
	case execErr != nil:
		ent.state.Status = StatusFailed
		ent.state.Error = execErr.Error()
	case result != nil && !result.Success:
		ent.state.Status = StatusFailed
		ent.state.Result = result
		ent.state.Error = failureText(result)
	default:
		ent.state.Status = StatusCompleted
		ent.state.Result = result
	}
	status := ent.state.Status
	ent.mu.Unlock()

	o.metrics.ObserveTaskDuration(status, end.Sub(start))
	if status == StatusFailed {
		o.metrics.IncTaskFailure("execution")
		o.logger.Warn("agent %s failed after %s: %v", agentID, end.Sub(start).Round(time.Millisecond), execErr)
	} else {
		o.logger.Info("agent %s completed in %s", agentID, end.Sub(start).Round(time.Millisecond))
	}

	if execErr != nil {
		return nil, execErr
	}
	return result, nil
}

// ExecuteBackground runs Execute detached. Failures are captured into the
// state's error field instead of propagating.
func (o *Orchestrator) ExecuteBackground(ctx context.Context, agentID, taskContext string) error {
	if _, err := o.lookup(agentID); err != nil {
		return err
	}
	async.Go(o.logger, "background agent "+agentID, func() {
		if _, err := o.Execute(ctx, agentID, taskContext); err != nil {
			o.logger.Debug("background agent %s: %v", agentID, err)
		}
	})
	return nil
}

// GetResult blocks until the agent has a result. A pending agent is started;
// a running one is polled. It fails when the agent ends failed without a
// usable result.
func (o *Orchestrator) GetResult(ctx context.Context, agentID string) (*ports.AgentResult, error) {
	ent, err := o.lookup(agentID)
	if err != nil {
		return nil, err
	}

	if ent.snapshot().Status == StatusPending {
		return o.Execute(ctx, agentID, "")
	}

	ticker := time.NewTicker(resultPollInterval)
	defer ticker.Stop()
	for {
		state := ent.snapshot()
		if state.Result != nil {
			return state.Result, nil
		}
		if state.Status.Terminal() {
			return nil, fmt.Errorf("agent %s ended %s: %s", agentID, state.Status, state.Error)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CheckResult returns the result when one exists, nil otherwise. Never
// blocks.
func (o *Orchestrator) CheckResult(agentID string) (*ports.AgentResult, error) {
	ent, err := o.lookup(agentID)
	if err != nil {
		return nil, err
	}
	return ent.snapshot().Result, nil
}

// GetStatus returns a snapshot of one agent's state.
func (o *Orchestrator) GetStatus(agentID string) (SubAgentState, error) {
	ent, err := o.lookup(agentID)
	if err != nil {
		return SubAgentState{}, err
	}
	return ent.snapshot(), nil
}

// ListAgents returns snapshots of every registry entry in spawn order.
func (o *Orchestrator) ListAgents() []SubAgentState {
	o.mu.RLock()
	ids := make([]string, len(o.order))
	copy(ids, o.order)
	entries := make([]*entry, 0, len(ids))
	for _, agentID := range ids {
		if ent, ok := o.agents[agentID]; ok {
			entries = append(entries, ent)
		}
	}
	o.mu.RUnlock()

	states := make([]SubAgentState, 0, len(entries))
	for _, ent := range entries {
		states = append(states, ent.snapshot())
	}
	return states
}

// GetStats counts registry entries by status.
func (o *Orchestrator) GetStats() Stats {
	var stats Stats
	for _, state := range o.ListAgents() {
		switch state.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats
}

// Stop requests cooperative cancellation from the agent. The registry entry
// stays in place.
func (o *Orchestrator) Stop(agentID string) error {
	ent, err := o.lookup(agentID)
	if err != nil {
		return err
	}
	ent.agent.Stop()
	o.logger.Info("stop requested for agent %s", agentID)
	return nil
}

// Cleanup tears down resources held by every registered agent that exposes
// a cleanup hook, such as sandbox containers. A failure for one agent is
// logged and does not stop the sweep; entries stay in the registry.
func (o *Orchestrator) Cleanup(ctx context.Context) {
	type cleaner interface {
		Cleanup(ctx context.Context) error
	}

	o.mu.Lock()
	ids := make([]string, len(o.order))
	copy(ids, o.order)
	agents := make(map[string]ports.Agent, len(o.agents))
	for agentID, ent := range o.agents {
		agents[agentID] = ent.agent
	}
	o.mu.Unlock()

	for _, agentID := range ids {
		c, ok := agents[agentID].(cleaner)
		if !ok {
			continue
		}
		if err := c.Cleanup(ctx); err != nil {
			o.logger.Warn("cleanup agent %s: %v", agentID, err)
		}
	}
}

// ClearCompleted removes every terminal entry from the registry.
func (o *Orchestrator) ClearCompleted() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	removed := 0
	kept := o.order[:0]
	for _, agentID := range o.order {
		ent, ok := o.agents[agentID]
		if !ok {
			continue
		}
		if ent.snapshot().Status.Terminal() {
			delete(o.agents, agentID)
			removed++
			continue
		}
		kept = append(kept, agentID)
	}
	o.order = kept
	return removed
}

func (o *Orchestrator) lookup(agentID string) (*entry, error) {
	o.mu.RLock()
	ent, ok := o.agents[agentID]
	o.mu.RUnlock()
	if !ok {
		return nil, crewerrors.NewValidationError("unknown agent id %s", agentID)
	}
	return ent, nil
}

func failureText(result *ports.AgentResult) string {
	if result.FinalResponse != "" {
		return result.FinalResponse
	}
	return "agent reported failure"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
