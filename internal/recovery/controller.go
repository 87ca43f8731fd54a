package recovery

import (
	"fmt"
	"time"

	"foreman/internal/logging"
)

// Action is the supervisor's next move after observing an exit code.
type Action string

const (
	// ActionProceed: success observed, continue the loop.
	ActionProceed Action = "proceed"
	// ActionRetry: bounded retry after sleeping.
	ActionRetry Action = "retry"
	// ActionRotate: expected rotation, spawn the next manager.
	ActionRotate Action = "rotate"
	// ActionCrisis: halt and demand human intervention.
	ActionCrisis Action = "crisis"
	// ActionAbort: stop the run, environment suspect.
	ActionAbort Action = "abort"
)

// Verdict is the controller's decision for one observed exit.
type Verdict struct {
	Action Action
	Sleep  time.Duration
	Reason string
}

// State is the controller's durable view of the run. It lives for one
// orchestrator run, resets only on explicit success, and escalates
// deterministically: no partial resets on failure paths.
type State struct {
	ConsecutiveFailures int  `json:"consecutive_failures"`
	LastExitCode        int  `json:"last_exit_code"`
	Attempts            int  `json:"attempts"`
	HumanNeeded         bool `json:"human_needed"`
	Aborted             bool `json:"aborted"`
}

// Config holds the escalation tunables.
type Config struct {
	// FailureCeiling is the consecutive-failure count that escalates
	// (default 3).
	FailureCeiling int
	// RetrySleep is the fixed back-off after a task failure (default 5s).
	RetrySleep time.Duration
	// CrashSleep is the longer back-off after a crash (default 30s).
	CrashSleep time.Duration
}

// Controller is a pure state machine keyed by subprocess exit code,
// independent of what kind of subprocess produced it.
type Controller struct {
	cfg   Config
	state State
}

// NewController creates a controller, filling zero config with defaults.
func NewController(cfg Config) *Controller {
	if cfg.FailureCeiling <= 0 {
		cfg.FailureCeiling = 3
	}
	if cfg.RetrySleep <= 0 {
		cfg.RetrySleep = 5 * time.Second
	}
	if cfg.CrashSleep <= 0 {
		cfg.CrashSleep = 30 * time.Second
	}
	return &Controller{cfg: cfg}
}

// State returns a copy of the current recovery state.
func (c *Controller) State() State { return c.state }

// Observe consumes one raw exit code and returns the verdict. The
// human-intervention flag, once set, is never cleared automatically.
func (c *Controller) Observe(code int) Verdict {
	c.state.LastExitCode = code

	switch Classify(code) {
	case ExitSuccess:
		c.state.ConsecutiveFailures = 0
		logging.Recovery("exit %d: success, failure counter reset", code)
		return Verdict{Action: ActionProceed, Reason: "unit of work completed"}

	case ExitRotation:
		// Rotation is expected, not an error.
		c.state.ConsecutiveFailures = 0
		logging.Recovery("exit %d: rotation requested", code)
		return Verdict{Action: ActionRotate, Reason: "manager rotation"}

	case ExitTaskFailed:
		c.state.ConsecutiveFailures++
		c.state.Attempts++
		if c.state.ConsecutiveFailures < c.cfg.FailureCeiling {
			logging.RecoveryWarn("exit %d: task failure %d/%d, retrying after %v",
				code, c.state.ConsecutiveFailures, c.cfg.FailureCeiling, c.cfg.RetrySleep)
			return Verdict{
				Action: ActionRetry,
				Sleep:  c.cfg.RetrySleep,
				Reason: fmt.Sprintf("task failure %d of %d", c.state.ConsecutiveFailures, c.cfg.FailureCeiling),
			}
		}
		c.state.HumanNeeded = true
		logging.Get(logging.CategoryRecovery).Error("failure ceiling reached (%d), escalating to crisis", c.cfg.FailureCeiling)
		return Verdict{
			Action: ActionCrisis,
			Reason: fmt.Sprintf("%d consecutive task failures reached the failure ceiling", c.state.ConsecutiveFailures),
		}

	case ExitCrisis:
		c.state.HumanNeeded = true
		logging.Get(logging.CategoryRecovery).Error("exit %d: explicit crisis", code)
		return Verdict{Action: ActionCrisis, Reason: "subprocess requested human intervention"}

	default: // ExitCrash
		c.state.ConsecutiveFailures++
		c.state.Attempts++
		if c.state.ConsecutiveFailures < c.cfg.FailureCeiling {
			logging.RecoveryWarn("exit %d: crash %d/%d, backing off %v",
				code, c.state.ConsecutiveFailures, c.cfg.FailureCeiling, c.cfg.CrashSleep)
			return Verdict{
				Action: ActionRetry,
				Sleep:  c.cfg.CrashSleep,
				Reason: fmt.Sprintf("crash %d of %d", c.state.ConsecutiveFailures, c.cfg.FailureCeiling),
			}
		}
		// Repeated crashes suggest environment corruption, not a fixable
		// task: abort rather than page a human into a broken sandbox.
		c.state.Aborted = true
		logging.Get(logging.CategoryRecovery).Error("crash ceiling reached (%d), aborting", c.cfg.FailureCeiling)
		return Verdict{
			Action: ActionAbort,
			Reason: fmt.Sprintf("%d consecutive crashes (last exit %d)", c.state.ConsecutiveFailures, code),
		}
	}
}
