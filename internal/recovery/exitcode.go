// Package recovery maps subprocess exit codes to supervision verdicts.
// The exit-code protocol is the only control signal between a supervised
// agent process and its supervisor; internally it is a closed enum consumed
// by a single decision function, never string-matched or inferred.
package recovery

import "fmt"

// ExitCode is the wire contract between supervised subprocesses and their
// supervisor.
type ExitCode int

const (
	// ExitSuccess: unit of work (task or full shift) completed.
	ExitSuccess ExitCode = 0
	// ExitTaskFailed: worker exhausted its retry ceiling.
	ExitTaskFailed ExitCode = 1
	// ExitRotation: manager needs rotation; a handoff has been written.
	ExitRotation ExitCode = 10
	// ExitCrisis: human intervention required.
	ExitCrisis ExitCode = 20
	// ExitCrash: unexpected crash or missing required input.
	ExitCrash ExitCode = 99
)

// Classify maps a raw subprocess exit code into the closed enum. Codes
// outside the protocol are crashes: they may indicate environment
// corruption rather than a fixable task.
func Classify(code int) ExitCode {
	switch ExitCode(code) {
	case ExitSuccess, ExitTaskFailed, ExitRotation, ExitCrisis:
		return ExitCode(code)
	default:
		return ExitCrash
	}
}

func (c ExitCode) String() string {
	switch c {
	case ExitSuccess:
		return "success"
	case ExitTaskFailed:
		return "task_failed"
	case ExitRotation:
		return "rotation"
	case ExitCrisis:
		return "crisis"
	case ExitCrash:
		return "crash"
	default:
		return fmt.Sprintf("exit(%d)", int(c))
	}
}
