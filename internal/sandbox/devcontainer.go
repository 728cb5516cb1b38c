package sandbox

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"crew/internal/devops/docker"
	crewerrors "crew/internal/errors"
	"crew/internal/fsys"
	"crew/internal/logging"
)

// devcontainer.json is JSON with comments; look in the conventional spots.
var devcontainerPaths = []string{
	".devcontainer/devcontainer.json",
	".devcontainer.json",
}

// DevcontainerSpec is the subset of a devcontainer.json descriptor this
// runtime honors.
type DevcontainerSpec struct {
	Name              string            `json:"name"`
	Image             string            `json:"image"`
	Build             *DevcontainerBuild `json:"build"`
	DockerComposeFile string            `json:"dockerComposeFile"`
	Service           string            `json:"service"`
	WorkspaceFolder   string            `json:"workspaceFolder"`
	ContainerEnv      map[string]string `json:"containerEnv"`
	RemoteEnv         map[string]string `json:"remoteEnv"`
}

// DevcontainerBuild mirrors the descriptor's build block.
type DevcontainerBuild struct {
	Dockerfile string `json:"dockerfile"`
	Context    string `json:"context"`
}

// FindDevcontainerSpec locates and parses a dev-container descriptor under
// projectDir. Returns nil with no error when none exists.
func FindDevcontainerSpec(fs fsys.FileSystem, projectDir string) (*DevcontainerSpec, string, error) {
	for _, rel := range devcontainerPaths {
		path := filepath.Join(projectDir, rel)
		if !fs.Exists(path) {
			continue
		}
		data, err := fs.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", path, err)
		}
		spec, err := parseDevcontainerSpec(data)
		if err != nil {
			return nil, "", crewerrors.NewConfigurationError("parse %s: %v", path, err)
		}
		return spec, path, nil
	}
	return nil, "", nil
}

func parseDevcontainerSpec(data []byte) (*DevcontainerSpec, error) {
	var spec DevcontainerSpec
	if err := json.Unmarshal(stripJSONC(data), &spec); err != nil {
		return nil, err
	}
	if spec.Image == "" && spec.Build == nil && spec.DockerComposeFile == "" {
		return nil, fmt.Errorf("descriptor names no image, build, or compose file")
	}
	return &spec, nil
}

// stripJSONC removes // and /* */ comments plus trailing commas so the
// descriptor parses as plain JSON. String contents are preserved.
func stripJSONC(data []byte) []byte {
	var out strings.Builder
	out.Grow(len(data))
	inString := false
	inLine := false
	inBlock := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case inLine:
			if c == '\n' {
				inLine = false
				out.WriteByte(c)
			}
		case inBlock:
			if c == '*' && i+1 < len(data) && data[i+1] == '/' {
				inBlock = false
				i++
			}
		case inString:
			out.WriteByte(c)
			if c == '\\' && i+1 < len(data) {
				out.WriteByte(data[i+1])
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
			out.WriteByte(c)
		case c == '/' && i+1 < len(data) && data[i+1] == '/':
			inLine = true
			i++
		case c == '/' && i+1 < len(data) && data[i+1] == '*':
			inBlock = true
			i++
		default:
			out.WriteByte(c)
		}
	}
	return removeTrailingCommas([]byte(out.String()))
}

func removeTrailingCommas(data []byte) []byte {
	var out []byte
	inString := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			if c == '\\' && i+1 < len(data) {
				out = append(out, data[i+1])
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(data) && (data[j] == ' ' || data[j] == '\t' || data[j] == '\n' || data[j] == '\r') {
				j++
			}
			if j < len(data) && (data[j] == '}' || data[j] == ']') {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// NewDevcontainerExecutor builds a container backend from the project's
// dev-container descriptor. Descriptor fields win over cfg.Docker values.
func NewDevcontainerExecutor(cfg *ExecutionConfig, gate PermissionGate, client docker.Client, fs fsys.FileSystem, logger logging.Logger) (*DockerExecutor, error) {
	if fs == nil {
		fs = fsys.NewOS()
	}
	spec, specPath, err := FindDevcontainerSpec(fs, cfg.ProjectDir)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, crewerrors.NewConfigurationError("no devcontainer descriptor under %s", cfg.ProjectDir)
	}

	resolved := *cfg
	resolved.Mode = ModeDevcontainer
	d := DockerConfig{}
	if cfg.Docker != nil {
		d = *cfg.Docker
	}
	d.Image = spec.Image
	d.Dockerfile = ""
	d.ComposeFile = ""
	if spec.Build != nil && spec.Build.Dockerfile != "" {
		d.Dockerfile = filepath.Join(filepath.Dir(specPath), spec.Build.Dockerfile)
	}
	if spec.DockerComposeFile != "" {
		d.ComposeFile = filepath.Join(filepath.Dir(specPath), spec.DockerComposeFile)
		d.Service = spec.Service
	}
	if spec.WorkspaceFolder != "" {
		d.WorkspaceFolder = spec.WorkspaceFolder
	}
	// remoteEnv applies at exec time, which is where Env ends up; it wins
	// over containerEnv on key collisions.
	if len(spec.ContainerEnv) > 0 || len(spec.RemoteEnv) > 0 {
		if d.Env == nil {
			d.Env = map[string]string{}
		}
		for k, v := range spec.ContainerEnv {
			d.Env[k] = v
		}
		for k, v := range spec.RemoteEnv {
			d.Env[k] = v
		}
	}
	resolved.Docker = &d

	logging.OrNop(logger).Debug("devcontainer descriptor %s resolved (image=%q compose=%q)", specPath, d.Image, d.ComposeFile)
	return NewDockerExecutor(&resolved, gate, client, logger)
}
