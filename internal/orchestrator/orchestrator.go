package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"foreman/internal/config"
	"foreman/internal/logging"
	"foreman/internal/recovery"
)

// crisisFlag is the manual crisis trigger file. Its presence halts all
// subprocess spawning before the next shift.
const crisisFlag = "CRISIS"

// ShiftSpawner abstracts manager subprocess spawning so the loop is
// testable without forking.
type ShiftSpawner interface {
	SpawnShift(ctx context.Context, handoffPath string, timeout time.Duration) (int, error)
}

// Report is the outcome of one orchestration run. An aborted run always
// carries the rotation count and the last recorded failure reason.
type Report struct {
	Success   bool
	Crisis    bool
	Rotations int
	Reason    string
	LastExit  int
	Recovery  recovery.State
}

// Orchestrator drives repeated shift invocations as separate subprocesses,
// passing each rotation's handoff to the next.
type Orchestrator struct {
	workspace  string
	cfg        config.Config
	spawner    ShiftSpawner
	controller *recovery.Controller

	// sleep is swappable in tests; verdict sleeps are real back-off in
	// production.
	sleep func(time.Duration)
}

// New creates an orchestrator over a workspace.
func New(workspace string, cfg config.Config, spawner ShiftSpawner) *Orchestrator {
	return &Orchestrator{
		workspace: workspace,
		cfg:       cfg,
		spawner:   spawner,
		controller: recovery.NewController(recovery.Config{
			FailureCeiling: cfg.Recovery.FailureCeiling,
			RetrySleep:     cfg.Recovery.RetrySleep,
			CrashSleep:     cfg.Recovery.CrashSleep,
		}),
		sleep: time.Sleep,
	}
}

// Run executes shifts until the plan completes, a verdict halts the run, or
// the rotation ceiling is hit. It never exits silently: every terminal path
// yields a Report with a reason.
func (o *Orchestrator) Run(ctx context.Context) Report {
	handoffPath := ""
	rotations := 0
	lastReason := ""

	for {
		if reason, tripped := o.crisisTripped(); tripped {
			logging.OrchestratorError("manual crisis trigger present: %s", reason)
			return o.report(false, true, rotations, "manual crisis trigger: "+reason)
		}
		if err := ctx.Err(); err != nil {
			return o.report(false, false, rotations, "orchestration cancelled")
		}
		if rotations > o.cfg.Orchestrator.RotationCeiling {
			return o.report(false, false, rotations,
				fmt.Sprintf("rotation ceiling (%d) exceeded; last failure: %s",
					o.cfg.Orchestrator.RotationCeiling, orUnknown(lastReason)))
		}

		logging.Orchestrator("starting shift %d (handoff: %s)", rotations+1, orNone(handoffPath))
		code, err := o.spawner.SpawnShift(ctx, handoffPath, o.cfg.Orchestrator.ShiftTimeout)
		if err != nil {
			logging.OrchestratorError("spawn failed: %v", err)
		}

		verdict := o.controller.Observe(code)
		logging.Orchestrator("shift exit %d -> %s (%s)", code, verdict.Action, verdict.Reason)

		switch verdict.Action {
		case recovery.ActionProceed:
			return o.report(true, false, rotations, "plan complete")

		case recovery.ActionRotate:
			rotations++
			handoffPath = o.latestHandoffPath()
			lastReason = verdict.Reason

		case recovery.ActionRetry:
			lastReason = verdict.Reason
			o.sleep(verdict.Sleep)

		case recovery.ActionCrisis:
			return o.report(false, true, rotations, verdict.Reason)

		case recovery.ActionAbort:
			return o.report(false, false, rotations, verdict.Reason)
		}
	}
}

// TriggerCrisis writes the manual crisis flag, immediately halting further
// subprocess spawning.
func TriggerCrisis(workspace, reason string) error {
	path := filepath.Join(workspace, ".foreman", crisisFlag)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	if reason == "" {
		reason = "manually triggered"
	}
	return os.WriteFile(path, []byte(reason+"\n"), 0644)
}

// ClearCrisis removes the manual crisis flag. Human-only: recovery never
// clears it automatically.
func ClearCrisis(workspace string) error {
	err := os.Remove(filepath.Join(workspace, ".foreman", crisisFlag))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (o *Orchestrator) crisisTripped() (string, bool) {
	data, err := os.ReadFile(filepath.Join(o.workspace, ".foreman", crisisFlag))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// latestHandoffPath points the next shift at the rotation-state document.
func (o *Orchestrator) latestHandoffPath() string {
	path := filepath.Join(o.workspace, ".foreman", "rotation", "HANDOFF.md")
	if _, err := os.Stat(path); err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("rotation reported but no handoff at %s", path)
		return ""
	}
	return path
}

func (o *Orchestrator) report(success, crisis bool, rotations int, reason string) Report {
	state := o.controller.State()
	rep := Report{
		Success:   success,
		Crisis:    crisis,
		Rotations: rotations,
		Reason:    reason,
		LastExit:  state.LastExitCode,
		Recovery:  state,
	}
	if success {
		logging.Orchestrator("run complete after %d rotations", rotations)
	} else {
		logging.OrchestratorError("run halted after %d rotations: %s", rotations, reason)
	}
	return rep
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
