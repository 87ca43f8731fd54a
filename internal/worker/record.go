package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"foreman/internal/checks"
	"foreman/internal/logging"
)

// FileChange records one touched file with line deltas.
type FileChange struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// CompletionRecord is the compact, bounded record every worker run leaves
// behind, overwritten each time. It is the manager's only view of what the
// worker did.
type CompletionRecord struct {
	TaskID      string       `json:"task_id"`
	Summary     string       `json:"summary"`
	FileChanges []FileChange `json:"file_changes,omitempty"`
	BuildPassed bool         `json:"build_passed"`
	TestsPassed bool         `json:"tests_passed"`
	LintPassed  bool         `json:"lint_passed"`
	// NewTechnique marks a success that needed more than one iteration,
	// meaning the first approach was discarded for another.
	NewTechnique bool `json:"new_technique,omitempty"`
	Iterations   int  `json:"iterations"`
	ExitCode     int  `json:"exit_code"`
}

// NetLines returns the net line delta across all file changes.
func (r CompletionRecord) NetLines() int {
	net := 0
	for _, fc := range r.FileChanges {
		net += fc.Added - fc.Removed
	}
	return net
}

// writeRecord atomically overwrites the per-run completion record.
func (w *Worker) writeRecord(record CompletionRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal completion record: %w", err)
	}
	path := w.resultPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write completion record: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadCompletionRecord loads the most recent worker completion record.
func ReadCompletionRecord(workspace string) (*CompletionRecord, error) {
	data, err := os.ReadFile(filepath.Join(workspace, ".foreman", "worker-result.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read completion record: %w", err)
	}
	var record CompletionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse completion record: %w", err)
	}
	return &record, nil
}

// writeLastError persists the bounded last-error document.
func (w *Worker) writeLastError(summary string) {
	out, _ := checks.Truncate(summary, w.cfg.Worker.OutputCapBytes)
	if err := os.WriteFile(w.lastErrorPath(), []byte(out+"\n"), 0644); err != nil {
		logging.WorkerError("failed to write last-error document: %v", err)
	}
}

// clearLastError removes the last-error document on success.
func (w *Worker) clearLastError() {
	if err := os.Remove(w.lastErrorPath()); err != nil && !os.IsNotExist(err) {
		logging.Get(logging.CategoryWorker).Warn("failed to clear last-error document: %v", err)
	}
}

// collectFileChanges asks git for per-file line deltas of the working tree.
// Best effort: a worktree without git history just yields no changes.
func (w *Worker) collectFileChanges(ctx context.Context) []FileChange {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "diff", "--numstat")
	cmd.Dir = w.workspace
	out, err := cmd.Output()
	if err != nil {
		logging.WorkerDebug("git diff unavailable: %v", err)
		return nil
	}
	return parseNumstat(string(out))
}

// parseNumstat parses `git diff --numstat` output: "added\tremoved\tpath".
func parseNumstat(out string) []FileChange {
	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		added, err1 := strconv.Atoi(fields[0])
		removed, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil {
			// Binary files report "-"; count them as touched with no deltas.
			added, removed = 0, 0
		}
		changes = append(changes, FileChange{Path: fields[2], Added: added, Removed: removed})
	}
	return changes
}
