package worker

import (
	"context"
	"fmt"
	"strings"

	"foreman/internal/checks"
	"foreman/internal/config"
	"foreman/internal/logging"
	"foreman/internal/recovery"
)

// Run executes the ralph loop: per iteration, edit, then build, then test,
// up to the retry ceiling. Build or test failure records the bounded output
// and iterates; a lint failure is recorded but never blocks. Every
// termination path writes the completion record before returning.
func (w *Worker) Run(ctx context.Context) (CompletionRecord, recovery.ExitCode) {
	w.state = StateLooping
	logging.Worker("worker %s booted for task %s (ceiling %d)", w.session.ID, w.session.TaskID, w.session.RetryCeiling)

	prompt, err := w.buildPrompt()
	if err != nil {
		logging.WorkerError("boot failed: %v", err)
		return w.terminate(ctx, CompletionRecord{Summary: err.Error()}, recovery.ExitCrash)
	}

	record := CompletionRecord{TaskID: w.session.TaskID}
	var lastFailure checks.CheckResult

	for i := 1; i <= w.session.RetryCeiling; i++ {
		w.session.Retries = i
		record.Iterations = i
		logging.Worker("iteration %d/%d for task %s", i, w.session.RetryCeiling, w.session.TaskID)

		if ctx.Err() != nil {
			record.Summary = "cancelled before completion"
			return w.terminate(ctx, record, recovery.ExitCrash)
		}

		edit := w.runner.Run(ctx, checks.KindEdit, w.toolCommand(w.tools.Edit, prompt))
		w.recordUsage(prompt, edit)
		if w.monitor.ShouldAbort() {
			return w.abortAttempt(ctx, record, i)
		}
		if !edit.Passed {
			lastFailure = edit
			logging.WorkerError("edit failed on iteration %d", i)
			continue
		}

		build := w.runner.Run(ctx, checks.KindBuild, w.toolCommand(w.tools.Build))
		w.recordUsage("", build)
		if w.monitor.ShouldAbort() {
			return w.abortAttempt(ctx, record, i)
		}
		if !build.Passed {
			lastFailure = build
			record.BuildPassed = false
			continue
		}
		record.BuildPassed = true

		// Lint is advisory: recorded, never a reason to iterate.
		if w.tools.Lint.Binary != "" {
			lint := w.runner.Run(ctx, checks.KindLint, w.toolCommand(w.tools.Lint))
			w.recordUsage("", lint)
			if w.monitor.ShouldAbort() {
				return w.abortAttempt(ctx, record, i)
			}
			record.LintPassed = lint.Passed
			if !lint.Passed {
				logging.Worker("lint failed on iteration %d (non-blocking)", i)
			}
		} else {
			record.LintPassed = true
		}

		test := w.runner.Run(ctx, checks.KindTest, w.toolCommand(w.tools.Test))
		w.recordUsage("", test)
		if w.monitor.ShouldAbort() {
			return w.abortAttempt(ctx, record, i)
		}
		if !test.Passed {
			lastFailure = test
			record.TestsPassed = false
			continue
		}
		record.TestsPassed = true

		// Both gates green: done. Needing more than one pass means the
		// first approach was discarded for another.
		w.state = StateSucceeded
		record.NewTechnique = i > 1
		record.Summary = w.summarize(edit.Output)
		record.FileChanges = w.collectFileChanges(ctx)
		logging.Worker("task %s succeeded on iteration %d", w.session.TaskID, i)
		return w.terminate(ctx, record, recovery.ExitSuccess)
	}

	// Ceiling exhausted without green build+tests: terminal failure.
	w.state = StateFailed
	record.Summary = w.summarize(fmt.Sprintf("retry ceiling (%d) exhausted; last failure (%s):\n%s",
		w.session.RetryCeiling, lastFailure.Kind, lastFailure.Output))
	record.FileChanges = w.collectFileChanges(ctx)
	logging.WorkerError("task %s failed after %d iterations", w.session.TaskID, w.session.RetryCeiling)
	return w.terminate(ctx, record, recovery.ExitTaskFailed)
}

// recordUsage feeds the telemetry monitor with an estimate of the tokens the
// iteration consumed. A worker that trips its own fill threshold has failed:
// workers are expected to finish well inside the smart zone.
func (w *Worker) recordUsage(prompt string, result checks.CheckResult) {
	tokens := w.counter.CountString(prompt) + w.counter.CountString(result.Output)
	if _, err := w.monitor.RecordUsage(tokens, w.session.TaskID); err != nil {
		logging.Get(logging.CategoryWorker).Warn("telemetry write failed: %v", err)
	}
}

// abortAttempt ends the run the moment the worker trips its own fill
// threshold. Further iterations would burn tokens in the degrading zone, so
// the attempt fails right away and the manager retries with a fresh worker.
func (w *Worker) abortAttempt(ctx context.Context, record CompletionRecord, iteration int) (CompletionRecord, recovery.ExitCode) {
	st := w.monitor.Status()
	w.state = StateFailed
	record.Summary = w.summarize(fmt.Sprintf(
		"worker context fill %.1f%% exceeded the abort threshold on iteration %d; aborting",
		st.FillPercent, iteration))
	record.FileChanges = w.collectFileChanges(ctx)
	logging.WorkerError("task %s: fill %.1f%% past worker threshold on iteration %d, aborting",
		w.session.TaskID, st.FillPercent, iteration)
	return w.terminate(ctx, record, recovery.ExitTaskFailed)
}

// toolCommand materializes a configured tool into a bounded command.
func (w *Worker) toolCommand(tool config.ToolCommand, extra ...string) checks.Command {
	return checks.Command{
		Binary:  tool.Binary,
		Args:    append(append([]string{}, tool.Args...), extra...),
		Dir:     w.workspace,
		Timeout: tool.Timeout,
	}
}

// summarize bounds a prose summary to the configured token budget.
func (w *Worker) summarize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		s = "no output recorded"
	}
	return w.counter.TruncateToTokens(s, w.cfg.Worker.SummaryCapTokens)
}

// terminate writes the completion record and last-error document, then
// reports the exit code for the process boundary. The worker's own fill
// threshold is checked last: exceeding it downgrades a success to a failure
// signal so the manager retries with a fresh worker.
func (w *Worker) terminate(ctx context.Context, record CompletionRecord, code recovery.ExitCode) (CompletionRecord, recovery.ExitCode) {
	if code == recovery.ExitSuccess && w.monitor.ShouldAbort() {
		st := w.monitor.Status()
		w.state = StateFailed
		code = recovery.ExitTaskFailed
		record.Summary = w.summarize(fmt.Sprintf(
			"worker context fill %.1f%% exceeded the abort threshold; result discarded\n%s",
			st.FillPercent, record.Summary))
		logging.WorkerError("task %s: fill %.1f%% past worker threshold, failing attempt", w.session.TaskID, st.FillPercent)
	}

	record.ExitCode = int(code)
	if err := w.writeRecord(record); err != nil {
		logging.WorkerError("failed to write completion record: %v", err)
	}
	if code == recovery.ExitSuccess {
		w.clearLastError()
	} else {
		w.writeLastError(record.Summary)
	}

	w.state = StateTerminated
	logging.Worker("worker %s terminated: %s", w.session.ID, code)
	return record, code
}
