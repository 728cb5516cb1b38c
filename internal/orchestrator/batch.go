package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ExecuteParallel spawns every task, then executes all of them concurrently
// under the maxParallel gate. A failing task never aborts its siblings; the
// batch reports success only when every task completed with no errors.
func (o *Orchestrator) ExecuteParallel(ctx context.Context, tasks []TaskSpec) *OrchestrationResult {
	start := time.Now()
	agentIDs, errs := o.spawnBatch(ctx, tasks)

	var mu sync.Mutex
	g := new(errgroup.Group)
	for i := range tasks {
		agentID := agentIDs[i]
		if agentID == "" {
			continue
		}
		taskID := tasks[i].ID
		taskContext := tasks[i].Context
		g.Go(func() error {
			if _, err := o.Execute(ctx, agentID, taskContext); err != nil {
				mu.Lock()
				errs = append(errs, batchErrorText(taskID, agentID, err))
				mu.Unlock()
			}
			// Sibling tasks keep running regardless of this outcome.
			return nil
		})
	}
	_ = g.Wait()

	return o.buildResult(agentIDs, errs, time.Since(start))
}

// ExecuteSequential runs tasks one at a time in input order. A failure in
// one task does not prevent later tasks from being attempted.
func (o *Orchestrator) ExecuteSequential(ctx context.Context, tasks []TaskSpec) *OrchestrationResult {
	start := time.Now()
	agentIDs := make([]string, len(tasks))
	var errs []string

	for i, task := range tasks {
		agentID, err := o.Spawn(ctx, task.Task, task.Config)
		if err != nil {
			errs = append(errs, batchErrorText(task.ID, "", err))
			continue
		}
		agentIDs[i] = agentID
		if _, err := o.Execute(ctx, agentID, task.Context); err != nil {
			errs = append(errs, batchErrorText(task.ID, agentID, err))
		}
	}

	return o.buildResult(agentIDs, errs, time.Since(start))
}

// spawnBatch registers every task up front. A spawn failure leaves an empty
// slot in the returned ids and an entry in the error list.
func (o *Orchestrator) spawnBatch(ctx context.Context, tasks []TaskSpec) ([]string, []string) {
	agentIDs := make([]string, len(tasks))
	var errs []string
	for i, task := range tasks {
		agentID, err := o.Spawn(ctx, task.Task, task.Config)
		if err != nil {
			errs = append(errs, batchErrorText(task.ID, "", err))
			continue
		}
		agentIDs[i] = agentID
	}
	return agentIDs, errs
}

// buildResult snapshots the batch's agents and aggregates totals. Token and
// cost sums cover only states that carry a result.
func (o *Orchestrator) buildResult(agentIDs []string, errs []string, duration time.Duration) *OrchestrationResult {
	result := &OrchestrationResult{
		TotalDuration: duration,
		Errors:        errs,
	}

	allCompleted := true
	for _, agentID := range agentIDs {
		if agentID == "" {
			allCompleted = false
			continue
		}
		state, err := o.GetStatus(agentID)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			allCompleted = false
			continue
		}
		result.States = append(result.States, state)
		if state.Status != StatusCompleted {
			allCompleted = false
		}
		if state.Result != nil {
			result.TotalTokens += state.Result.TotalTokens
			result.TotalCost += state.Result.TotalCost
		}
	}

	result.Success = allCompleted && len(result.Errors) == 0
	return result
}

func batchErrorText(taskID, agentID string, err error) string {
	switch {
	case taskID != "" && agentID != "":
		return fmt.Sprintf("task %s (agent %s): %v", taskID, agentID, err)
	case taskID != "":
		return fmt.Sprintf("task %s: %v", taskID, err)
	case agentID != "":
		return fmt.Sprintf("agent %s: %v", agentID, err)
	default:
		return err.Error()
	}
}
