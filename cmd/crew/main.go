package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"crew/internal/agent/command"
	"crew/internal/approval"
	"crew/internal/config"
	"crew/internal/logging"
	"crew/internal/orchestrator"
	"crew/internal/sandbox"
	"crew/internal/security"
)

var version = "0.3.0"

const approvalTimeout = 60 * time.Second

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

type cliOptions struct {
	projectDir string
	mode       string
	image      string
	riskLevel  string
	autoAccept bool
	parallel   int
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "crew",
		Short:         "Sandboxed multi-agent task runner",
		Long:          "crew dispatches agent tasks into native, container, or dev-container sandboxes\nunder a risk-scored permission policy.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.projectDir, "project", "p", ".", "project directory")
	root.PersistentFlags().StringVarP(&opts.mode, "mode", "m", "", "sandbox mode (native|docker|devcontainer|auto)")
	root.PersistentFlags().StringVar(&opts.image, "image", "", "container image for docker mode")
	root.PersistentFlags().StringVar(&opts.riskLevel, "accept-risk", "", "highest risk tier accepted without confirmation")
	root.PersistentFlags().BoolVarP(&opts.autoAccept, "yes", "y", false, "accept everything not on the deny list")
	root.PersistentFlags().IntVar(&opts.parallel, "parallel", 0, "max concurrent agents")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		newExecCmd(opts),
		newRunCmd(opts),
		newDetectCmd(opts),
		newRiskCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the crew version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crew %s\n", version)
		},
	}
}

// runtime bundles the wired subsystems one invocation needs.
type runtime struct {
	cfg     *config.Config
	manager *security.Manager
	factory *sandbox.Factory
	exec    *sandbox.ExecutionConfig
	logger  logging.Logger
}

func buildRuntime(opts *cliOptions) (*runtime, error) {
	projectDir, err := resolveProjectDir(opts.projectDir)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cfg, opts)

	logger := logging.Nop()
	if opts.verbose || cfg.Logging.File {
		logger = logging.NewComponentLogger("cli")
	}

	managerCfg := cfg.ManagerConfig()
	var managerOpts []security.ManagerOption
	managerOpts = append(managerOpts, security.WithLogger(logger))
	if approval.IsTTY() && !managerCfg.AutoAccept {
		managerOpts = append(managerOpts, security.WithApprover(
			approval.NewInteractiveApprover(approvalTimeout, false, true)))
	}
	manager, err := security.NewManager(managerCfg, managerOpts...)
	if err != nil {
		return nil, err
	}

	factory := sandbox.NewFactory(manager, sandbox.WithFactoryLogger(logger))

	return &runtime{
		cfg:     cfg,
		manager: manager,
		factory: factory,
		exec:    cfg.ExecutionConfig(projectDir),
		logger:  logger,
	}, nil
}

func applyFlagOverrides(cfg *config.Config, opts *cliOptions) {
	if opts.mode != "" {
		cfg.Sandbox.Mode = opts.mode
	}
	if opts.image != "" {
		cfg.Sandbox.Image = opts.image
	}
	if opts.riskLevel != "" {
		cfg.Security.AcceptRiskLevel = opts.riskLevel
	}
	if opts.autoAccept {
		cfg.Security.AutoAccept = true
	}
	if opts.parallel > 0 {
		cfg.MaxParallel = opts.parallel
	}
}

func resolveProjectDir(dir string) (string, error) {
	abs, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if dir == "" || dir == "." {
		return abs, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("project directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project path %s is not a directory", dir)
	}
	return dir, nil
}

func newOrchestrator(ctx context.Context, rt *runtime) (*orchestrator.Orchestrator, error) {
	factory := command.NewFactory(rt.factory, rt.exec, rt.logger)
	return orchestrator.New(factory,
		orchestrator.WithMaxParallel(rt.cfg.MaxParallel),
		orchestrator.WithLogger(rt.logger),
	)
}
