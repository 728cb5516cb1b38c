package orchestrator

import (
	"context"
	"sort"
	"strings"
	"time"

	crewerrors "crew/internal/errors"
)

// ExecuteWithDependencies schedules tasks in waves: each wave contains every
// task whose dependencies have reached a terminal state. A failed dependency
// still unblocks its dependents; callers inspect individual states to detect
// ancestor failures. Reference errors abort the batch before any agent is
// spawned; a cycle stops scheduling after the completed waves and names every
// task still incomplete.
func (o *Orchestrator) ExecuteWithDependencies(ctx context.Context, tasks []TaskSpec) *OrchestrationResult {
	start := time.Now()

	if err := validateTaskGraph(tasks); err != nil {
		return &OrchestrationResult{
			Success:       false,
			TotalDuration: time.Since(start),
			Errors:        []string{err.Error()},
		}
	}

	result := &OrchestrationResult{}
	done := make(map[string]bool, len(tasks))
	remaining := make([]TaskSpec, len(tasks))
	copy(remaining, tasks)

	for len(remaining) > 0 {
		wave, rest := nextWave(remaining, done)
		if len(wave) == 0 {
			result.Errors = append(result.Errors, circularDependencyText(remaining))
			break
		}

		waveResult := o.ExecuteParallel(ctx, wave)
		result.States = append(result.States, waveResult.States...)
		result.Errors = append(result.Errors, waveResult.Errors...)
		result.TotalTokens += waveResult.TotalTokens
		result.TotalCost += waveResult.TotalCost

		// A task that failed still satisfies downstream ordering.
		for _, task := range wave {
			done[task.ID] = true
		}
		remaining = rest
	}

	result.TotalDuration = time.Since(start)
	result.Success = len(result.Errors) == 0 && allCompleted(result.States) && len(result.States) == len(tasks)
	return result
}

// validateTaskGraph rejects duplicate ids and dangling dependency references
// before any work starts.
func validateTaskGraph(tasks []TaskSpec) error {
	ids := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			return crewerrors.NewValidationError("task with empty id in batch")
		}
		if ids[task.ID] {
			return crewerrors.NewValidationError("duplicate task id %q in batch", task.ID)
		}
		ids[task.ID] = true
	}
	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if !ids[dep] {
				return crewerrors.NewValidationError("task %q depends on unknown task %q", task.ID, dep)
			}
		}
	}
	return nil
}

// nextWave splits remaining into the tasks whose dependencies are all done
// and the tasks still blocked.
func nextWave(remaining []TaskSpec, done map[string]bool) (wave, rest []TaskSpec) {
	for _, task := range remaining {
		ready := true
		for _, dep := range task.DependsOn {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, task)
		} else {
			rest = append(rest, task)
		}
	}
	return wave, rest
}

func circularDependencyText(remaining []TaskSpec) string {
	ids := make([]string, 0, len(remaining))
	for _, task := range remaining {
		ids = append(ids, task.ID)
	}
	sort.Strings(ids)
	return "circular dependency among tasks: " + strings.Join(ids, ", ")
}

func allCompleted(states []SubAgentState) bool {
	for _, state := range states {
		if state.Status != StatusCompleted {
			return false
		}
	}
	return true
}
