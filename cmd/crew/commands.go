package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crew/internal/orchestrator"
	"crew/internal/security"
)

// newExecCmd runs a single command in the selected sandbox and prints its
// output. Exit code follows the sandboxed command.
func newExecCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command>",
		Short: "Run one command inside the sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(opts)
			if err != nil {
				return err
			}

			executor, err := rt.factory.CreateExecutor(cmd.Context(), rt.exec)
			if err != nil {
				return err
			}
			defer executor.Cleanup(cmd.Context())

			if err := executor.Initialize(cmd.Context()); err != nil {
				return err
			}

			res, err := executor.Execute(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if res.Stdout != "" {
				fmt.Print(res.Stdout)
			}
			if res.Stderr != "" {
				fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("command exited with code %d", res.ExitCode)
			}
			return nil
		},
	}
}

// newRunCmd dispatches one or more tasks through the orchestrator. Tasks
// come from CLI args separated by "--and", or from a YAML/JSON task file
// whose entries may declare dependsOn edges.
func newRunCmd(opts *cliOptions) *cobra.Command {
	var sequential bool
	var taskFile string

	cmd := &cobra.Command{
		Use:   "run [<task> [--and <task>]...]",
		Short: "Run agent tasks through the orchestrator",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var tasks []orchestrator.TaskSpec
			var err error
			switch {
			case taskFile != "" && len(args) > 0:
				return fmt.Errorf("use either --file or task arguments, not both")
			case taskFile != "":
				tasks, err = loadTaskFile(taskFile)
				if err != nil {
					return err
				}
			case len(args) > 0:
				tasks = splitTasks(args)
			default:
				return fmt.Errorf("no tasks given")
			}

			rt, err := buildRuntime(opts)
			if err != nil {
				return err
			}

			orch, err := newOrchestrator(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer orch.Cleanup(cmd.Context())

			var result *orchestrator.OrchestrationResult
			switch {
			case sequential:
				result = orch.ExecuteSequential(cmd.Context(), tasks)
			case hasDependencies(tasks):
				result = orch.ExecuteWithDependencies(cmd.Context(), tasks)
			default:
				result = orch.ExecuteParallel(cmd.Context(), tasks)
			}

			printResult(result)
			if !result.Success {
				return fmt.Errorf("%d of %d tasks failed", failedCount(result), len(tasks))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sequential, "sequential", false, "run tasks one at a time in order")
	cmd.Flags().StringVarP(&taskFile, "file", "f", "", "YAML or JSON file with a tasks list")
	return cmd
}

// loadTaskFile reads a tasks list from a YAML or JSON file. Entries without
// an id get positional ones.
func loadTaskFile(path string) ([]orchestrator.TaskSpec, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	var tasks []orchestrator.TaskSpec
	if err := v.UnmarshalKey("tasks", &tasks); err != nil {
		return nil, fmt.Errorf("parsing task file: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task file %s defines no tasks", path)
	}
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = fmt.Sprintf("task-%d", i+1)
		}
	}
	return tasks, nil
}

func hasDependencies(tasks []orchestrator.TaskSpec) bool {
	for _, task := range tasks {
		if len(task.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// newDetectCmd reports which sandbox would be chosen for the project.
func newDetectCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Show which sandbox auto-detection would pick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(opts)
			if err != nil {
				return err
			}

			detection := rt.factory.Detect(cmd.Context(), rt.exec.ProjectDir)
			fmt.Printf("%s %s\n", bold("mode:"), cyan(detection.Mode.String()))
			fmt.Printf("%s %s\n", bold("reason:"), detection.Reason)
			if detection.Devcontainer != nil && detection.Devcontainer.Name != "" {
				fmt.Printf("%s %s\n", bold("devcontainer:"), detection.Devcontainer.Name)
			}
			return nil
		},
	}
}

// newRiskCmd scores a command without executing anything.
func newRiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk <command>",
		Short: "Score a command's risk without running it",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			assessment := security.NewAssessor().Assess(strings.Join(args, " "))
			fmt.Printf("%s %s (%d)\n", bold("risk:"), colorLevel(assessment.Level), assessment.Score)
			for _, reason := range assessment.Reasons {
				fmt.Printf("  %s %s\n", gray("-"), reason)
			}
		},
	}
}

func colorLevel(level security.RiskLevel) string {
	switch level {
	case security.RiskCritical:
		return red(string(level))
	case security.RiskHigh:
		return red(string(level))
	case security.RiskMedium:
		return yellow(string(level))
	default:
		return green(string(level))
	}
}

// splitTasks turns CLI args into task specs, honoring "--and" separators.
func splitTasks(args []string) []orchestrator.TaskSpec {
	var tasks []orchestrator.TaskSpec
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		tasks = append(tasks, orchestrator.TaskSpec{
			ID:   fmt.Sprintf("task-%d", len(tasks)+1),
			Task: strings.Join(current, " "),
		})
		current = nil
	}
	for _, arg := range args {
		if arg == "--and" {
			flush()
			continue
		}
		current = append(current, arg)
	}
	flush()
	return tasks
}

func printResult(result *orchestrator.OrchestrationResult) {
	for _, state := range result.States {
		marker := green("ok")
		if state.Status != orchestrator.StatusCompleted {
			marker = red("failed")
		}
		fmt.Printf("%s %s %s\n", marker, bold(state.AgentID), gray(truncateTask(state.Task)))
		if state.Result != nil && state.Result.FinalResponse != "" {
			fmt.Println(indent(state.Result.FinalResponse))
		}
		if state.Error != "" {
			fmt.Println(indent(red(state.Error)))
		}
	}
	for _, msg := range result.Errors {
		fmt.Printf("%s %s\n", red("error:"), msg)
	}
	fmt.Printf("%s %s\n", gray("duration:"), result.TotalDuration.Round(time.Millisecond))
}

func failedCount(result *orchestrator.OrchestrationResult) int {
	n := 0
	for _, state := range result.States {
		if state.Status != orchestrator.StatusCompleted {
			n++
		}
	}
	if n == 0 && len(result.Errors) > 0 {
		n = len(result.Errors)
	}
	return n
}

func truncateTask(task string) string {
	if len(task) > 60 {
		return task[:60] + "..."
	}
	return task
}

func indent(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
