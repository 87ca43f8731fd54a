// Package orchestrator is the top-level supervisory loop: it spawns manager
// subprocesses, feeds handoff files across rotations, applies recovery
// verdicts, and enforces the rotation ceiling. All coordination with the
// tree below it is files and exit codes; there is no shared memory or RPC.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"foreman/internal/logging"
	"foreman/internal/worker"

	"golang.org/x/sync/semaphore"
)

// Environment contract for spawned manager processes.
const (
	EnvProjectRoot = worker.EnvProjectRoot
	EnvProjectID   = worker.EnvProjectID
	EnvHandoff     = "FOREMAN_HANDOFF"
)

// Spawner launches supervised agent subprocesses. The worker pool is a
// single slot: the concurrency model allows exactly one active worker, and
// the semaphore keeps that true even if a future caller gets ambitious.
type Spawner struct {
	workspace    string
	projectID    string
	binary       string // the foreman binary itself, re-invoked per role
	managerGrace time.Duration
	workerGrace  time.Duration
	pool         *semaphore.Weighted
}

// NewSpawner creates a spawner. binary defaults to the running executable.
func NewSpawner(workspace, projectID, binary string, managerGrace, workerGrace time.Duration) *Spawner {
	if binary == "" {
		if exe, err := os.Executable(); err == nil {
			binary = exe
		} else {
			binary = "foreman"
		}
	}
	if managerGrace <= 0 {
		managerGrace = 30 * time.Second
	}
	if workerGrace <= 0 {
		workerGrace = 10 * time.Second
	}
	return &Spawner{
		workspace:    workspace,
		projectID:    projectID,
		binary:       binary,
		managerGrace: managerGrace,
		workerGrace:  workerGrace,
		pool:         semaphore.NewWeighted(1),
	}
}

// SpawnShift runs one manager shift subprocess and returns its exit code.
// handoffPath is the previous rotation's handoff ("" for the first shift).
func (s *Spawner) SpawnShift(ctx context.Context, handoffPath string, timeout time.Duration) (int, error) {
	env := append(os.Environ(),
		EnvProjectRoot+"="+s.workspace,
		EnvProjectID+"="+s.projectID,
	)
	if handoffPath != "" {
		env = append(env, EnvHandoff+"="+handoffPath)
	}
	return s.run(ctx, env, s.managerGrace, timeout, "shift")
}

// SpawnWorker runs one worker subprocess for a task, holding the single
// pool slot for the duration. The manager blocks while its worker runs.
func (s *Spawner) SpawnWorker(ctx context.Context, taskID, requirementsDoc, taskDoc string, timeout time.Duration) (int, error) {
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return exitOf(err), fmt.Errorf("worker slot unavailable: %w", err)
	}
	defer s.pool.Release(1)

	env := append(os.Environ(),
		EnvProjectRoot+"="+s.workspace,
		EnvProjectID+"="+s.projectID,
		worker.EnvTaskID+"="+taskID,
		worker.EnvRequirementsDoc+"="+requirementsDoc,
		worker.EnvTaskDoc+"="+taskDoc,
	)
	return s.run(ctx, env, s.workerGrace, timeout, "task")
}

// run executes the subprocess with a termination grace period: cancellation
// sends SIGTERM, and only after the grace window does the process get
// killed, letting an in-flight unit of work finish.
func (s *Spawner) run(ctx context.Context, env []string, grace, timeout time.Duration, args ...string) (int, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Dir = s.workspace
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		logging.Orchestrator("signalling %s subprocess, %v grace", args[0], grace)
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	logging.Orchestrator("spawning %s subprocess (pid pending)", args[0])
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	// Spawn failure or timeout before exit: indistinguishable from a crash
	// for recovery purposes.
	logging.OrchestratorError("%s subprocess error: %v", args[0], err)
	return 99, nil
}

func exitOf(err error) int {
	if err == nil {
		return 0
	}
	return 99
}
