package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ToolCommand describes one external command line invoked by the worker loop.
type ToolCommand struct {
	Binary  string        `yaml:"binary"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Tools defines the external edit/build/test/lint commands for a project.
// Loaded from .foreman/tools.yaml. The edit command receives the generated
// task prompt appended to its args.
type Tools struct {
	Edit  ToolCommand `yaml:"edit"`
	Build ToolCommand `yaml:"build"`
	Test  ToolCommand `yaml:"test"`
	Lint  ToolCommand `yaml:"lint,omitempty"`
}

// DefaultTools returns commands for a Go workspace. Used when no tools.yaml
// exists, mirroring project-type detection defaults.
func DefaultTools() Tools {
	return Tools{
		Edit:  ToolCommand{Binary: "claude", Args: []string{"-p"}, Timeout: 15 * time.Minute},
		Build: ToolCommand{Binary: "go", Args: []string{"build", "./..."}, Timeout: 10 * time.Minute},
		Test:  ToolCommand{Binary: "go", Args: []string{"test", "./..."}, Timeout: 10 * time.Minute},
		Lint:  ToolCommand{Binary: "go", Args: []string{"vet", "./..."}, Timeout: 5 * time.Minute},
	}
}

// LoadTools reads .foreman/tools.yaml under workspace, falling back to
// DefaultTools when the file is absent.
func LoadTools(workspace string) (Tools, error) {
	path := filepath.Join(workspace, ".foreman", "tools.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTools(), nil
		}
		return Tools{}, fmt.Errorf("failed to read tools config: %w", err)
	}

	tools := DefaultTools()
	if err := yaml.Unmarshal(data, &tools); err != nil {
		return Tools{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if tools.Edit.Binary == "" {
		return Tools{}, fmt.Errorf("tools config %s: edit command is required", path)
	}
	return tools, nil
}
