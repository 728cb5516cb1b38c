package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	crewerrors "crew/internal/errors"
	"crew/internal/sandbox"
	"crew/internal/security"
)

// Config is the runtime configuration loaded from crew.yaml and CREW_*
// environment variables. Project-level files override the user-level file.
type Config struct {
	MaxParallel int            `mapstructure:"max_parallel"`
	Sandbox     SandboxConfig  `mapstructure:"sandbox"`
	Security    SecurityConfig `mapstructure:"security"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

type SandboxConfig struct {
	Mode            string `mapstructure:"mode"`
	Image           string `mapstructure:"image"`
	Dockerfile      string `mapstructure:"dockerfile"`
	ComposeFile     string `mapstructure:"compose_file"`
	Service         string `mapstructure:"service"`
	Network         string `mapstructure:"network"`
	CPULimit        string `mapstructure:"cpu_limit"`
	MemoryLimit     string `mapstructure:"memory_limit"`
	WorkspaceFolder string `mapstructure:"workspace_folder"`
}

type SecurityConfig struct {
	AcceptRiskLevel string   `mapstructure:"accept_risk_level"`
	AutoAccept      bool     `mapstructure:"auto_accept"`
	AlwaysAccept    []string `mapstructure:"always_accept"`
	AllowList       []string `mapstructure:"allow_list"`
	DenyList        []string `mapstructure:"deny_list"`
	AuditPath       string   `mapstructure:"audit_path"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
}

// Load reads configuration for a project directory. A missing config file is
// not an error; defaults and environment variables still apply.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("crew")
	v.SetConfigType("yaml")
	if projectDir != "" {
		v.AddConfigPath(projectDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "crew"))
	}

	v.SetEnvPrefix("CREW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, crewerrors.NewConfigurationError("read config: %v", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, crewerrors.NewConfigurationError("parse config: %v", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_parallel", 3)
	v.SetDefault("sandbox.mode", "auto")
	v.SetDefault("sandbox.network", "full")
	v.SetDefault("security.accept_risk_level", "medium")
	v.SetDefault("logging.level", "info")
}

func (c *Config) validate() error {
	if c.MaxParallel < 1 {
		return crewerrors.NewConfigurationError("max_parallel must be at least 1, got %d", c.MaxParallel)
	}
	if !sandbox.Mode(c.Sandbox.Mode).Valid() {
		return crewerrors.NewConfigurationError("unrecognized sandbox mode %q", c.Sandbox.Mode)
	}
	if _, err := security.ParseLevel(c.Security.AcceptRiskLevel); err != nil {
		return crewerrors.NewConfigurationError("accept_risk_level: %v", err)
	}
	return nil
}

// ExecutionConfig maps the sandbox section onto an executor configuration
// for the given project directory.
func (c *Config) ExecutionConfig(projectDir string) *sandbox.ExecutionConfig {
	cfg := &sandbox.ExecutionConfig{
		Mode:       sandbox.Mode(c.Sandbox.Mode),
		ProjectDir: projectDir,
	}
	s := c.Sandbox
	if s.Image != "" || s.Dockerfile != "" || s.ComposeFile != "" || s.WorkspaceFolder != "" {
		cfg.Docker = &sandbox.DockerConfig{
			Image:           s.Image,
			Dockerfile:      s.Dockerfile,
			ComposeFile:     s.ComposeFile,
			Service:         s.Service,
			Network:         sandbox.NetworkPolicy(s.Network),
			CPULimit:        s.CPULimit,
			MemoryLimit:     s.MemoryLimit,
			WorkspaceFolder: s.WorkspaceFolder,
		}
	}
	return cfg
}

// ManagerConfig maps the security section onto permission manager settings.
func (c *Config) ManagerConfig() security.ManagerConfig {
	return security.ManagerConfig{
		AcceptRiskLevel: security.RiskLevel(c.Security.AcceptRiskLevel),
		AutoAccept:      c.Security.AutoAccept,
		AlwaysAccept:    c.Security.AlwaysAccept,
		AllowList:       c.Security.AllowList,
		DenyList:        c.Security.DenyList,
		AuditPath:       c.Security.AuditPath,
	}
}
