// Package checks invokes the external edit/build/test/lint commands with
// bounded timeouts and bounded output. Every check produces one tagged
// CheckResult so the aggregation in the worker loop is exhaustive rather
// than optional-field-driven.
package checks

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"foreman/internal/config"
	"foreman/internal/logging"
)

// CheckKind tags the external capability that produced a result.
type CheckKind string

const (
	KindEdit  CheckKind = "edit"
	KindBuild CheckKind = "build"
	KindTest  CheckKind = "test"
	KindLint  CheckKind = "lint"
)

// Command is one bounded external invocation.
type Command struct {
	Binary  string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// CheckResult is the uniform pass/fail record for every check kind.
type CheckResult struct {
	Kind      CheckKind     `json:"kind"`
	Passed    bool          `json:"passed"`
	Output    string        `json:"output,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Runner executes commands on behalf of a worker.
type Runner struct {
	workspace string
	outputCap int
}

// NewRunner creates a runner. outputCap bounds recorded output in bytes.
func NewRunner(workspace string, outputCap int) *Runner {
	if outputCap <= 0 {
		outputCap = 4000
	}
	return &Runner{workspace: workspace, outputCap: outputCap}
}

// FromTool builds a Command from a configured tool, appending extra args.
func (r *Runner) FromTool(tool config.ToolCommand, extra ...string) Command {
	return Command{
		Binary:  tool.Binary,
		Args:    append(append([]string{}, tool.Args...), extra...),
		Dir:     r.workspace,
		Timeout: tool.Timeout,
	}
}

// Run executes cmd and classifies the outcome. A timeout is treated
// identically to a non-zero exit: the check failed.
func (r *Runner) Run(ctx context.Context, kind CheckKind, cmd Command) CheckResult {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	timer := logging.StartTimer(logging.CategoryChecks, fmt.Sprintf("%s(%s)", kind, cmd.Binary))
	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	c.Dir = cmd.Dir
	if c.Dir == "" {
		c.Dir = r.workspace
	}
	c.Env = cmd.Env

	output, err := c.CombinedOutput()
	elapsed := timer.Stop()

	out, truncated := Truncate(string(output), r.outputCap)
	result := CheckResult{
		Kind:      kind,
		Passed:    err == nil,
		Output:    out,
		Truncated: truncated,
		Duration:  elapsed,
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.Output, result.Truncated = Truncate(
				fmt.Sprintf("timed out after %v\n%s", timeout, string(output)), r.outputCap)
		}
		logging.Checks("%s failed: %v", kind, err)
	} else {
		logging.ChecksDebug("%s passed in %v", kind, elapsed)
	}
	return result
}

// Truncate bounds s to capBytes, marking any cut explicitly.
func Truncate(s string, capBytes int) (string, bool) {
	if capBytes <= 0 || len(s) <= capBytes {
		return s, false
	}
	return s[:capBytes] + "\n[truncated]", true
}
