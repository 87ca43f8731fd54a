// Package worker implements the single-task worker lifecycle: boot with
// exactly two injected context documents, run the bounded edit/build/test
// retry loop (the ralph loop), emit a compact completion record, terminate.
// Workers never see prior session history; their context is reproducible by
// construction.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"foreman/internal/checks"
	"foreman/internal/config"
	"foreman/internal/telemetry"

	"github.com/google/uuid"
)

// Environment contract for spawned workers. Missing required variables is a
// crash (exit 99), not a retryable failure.
const (
	EnvProjectRoot     = "FOREMAN_PROJECT_ROOT"
	EnvProjectID       = "FOREMAN_PROJECT_ID"
	EnvTaskID          = "FOREMAN_TASK_ID"
	EnvRequirementsDoc = "FOREMAN_REQUIREMENTS_DOC"
	EnvTaskDoc         = "FOREMAN_TASK_DOC"
)

// State tracks the worker lifecycle.
type State string

const (
	StateBooted     State = "booted"
	StateLooping    State = "looping"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
)

// Session is the in-memory worker session. It is created at boot and
// discarded at exit; nothing here persists across invocations.
type Session struct {
	ID               string
	ProjectID        string
	TaskID           string
	StartedAt        time.Time
	Retries          int
	RetryCeiling     int
	RequirementsPath string
	TaskDocPath      string
}

// CheckRunner abstracts command execution so the loop is testable.
type CheckRunner interface {
	Run(ctx context.Context, kind checks.CheckKind, cmd checks.Command) checks.CheckResult
}

// Worker runs one task to completion or terminal failure.
type Worker struct {
	session   Session
	workspace string
	cfg       config.Config
	tools     config.Tools
	runner    CheckRunner
	monitor   *telemetry.Monitor
	counter   *telemetry.TokenCounter
	state     State
}

// New assembles a worker. The monitor must be a worker-kind monitor; its
// snapshot is reset at boot so no telemetry carries in from a prior worker.
func New(workspace string, session Session, cfg config.Config, tools config.Tools, runner CheckRunner, monitor *telemetry.Monitor) (*Worker, error) {
	if session.RetryCeiling <= 0 {
		session.RetryCeiling = cfg.Worker.RetryCeiling
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}

	if err := monitor.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset telemetry: %w", err)
	}

	return &Worker{
		session:   session,
		workspace: workspace,
		cfg:       cfg,
		tools:     tools,
		runner:    runner,
		monitor:   monitor,
		counter:   telemetry.NewTokenCounter(),
		state:     StateBooted,
	}, nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return w.state }

// Session returns a copy of the worker session.
func (w *Worker) Session() Session { return w.session }

// BootFromEnv reads the spawned-worker environment contract. Any missing
// variable is a crash-level error.
func BootFromEnv() (workspace string, session Session, err error) {
	required := map[string]*string{
		EnvProjectRoot:     &workspace,
		EnvProjectID:       &session.ProjectID,
		EnvTaskID:          &session.TaskID,
		EnvRequirementsDoc: &session.RequirementsPath,
		EnvTaskDoc:         &session.TaskDocPath,
	}
	for name, dst := range required {
		v := os.Getenv(name)
		if v == "" {
			return "", Session{}, fmt.Errorf("missing required environment variable %s", name)
		}
		*dst = v
	}
	session.ID = uuid.NewString()
	session.StartedAt = time.Now().UTC()
	return workspace, session, nil
}

// buildPrompt composes the edit prompt from the two injected documents.
// This is all the context a worker ever receives.
func (w *Worker) buildPrompt() (string, error) {
	requirements, err := os.ReadFile(w.session.RequirementsPath)
	if err != nil {
		return "", fmt.Errorf("failed to read requirements doc: %w", err)
	}
	taskDoc, err := os.ReadFile(w.session.TaskDocPath)
	if err != nil {
		return "", fmt.Errorf("failed to read task doc: %w", err)
	}

	return fmt.Sprintf(`You are completing exactly one atomic task.

# Global requirements
%s

# Current task (%s)
%s

Make the smallest change that completes this task. Then stop.`,
		string(requirements), w.session.TaskID, string(taskDoc)), nil
}

// resultPath is the per-run completion record location.
func (w *Worker) resultPath() string {
	return filepath.Join(w.workspace, ".foreman", "worker-result.json")
}

// lastErrorPath is the bounded last-error document, cleared on success.
func (w *Worker) lastErrorPath() string {
	return filepath.Join(w.workspace, ".foreman", "last-error.txt")
}
