package shift

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/handoff"
	"foreman/internal/recovery"
	"foreman/internal/tasks"
	"foreman/internal/telemetry"
	"foreman/internal/worker"
)

type shiftFixture struct {
	ws      string
	store   *tasks.Store
	monitor *telemetry.Monitor
	journal *Journal
}

func newShiftFixture(t *testing.T, plan string) *shiftFixture {
	t.Helper()
	ws := t.TempDir()
	planPath := filepath.Join(ws, ".foreman", "PLAN.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(planPath), 0755))
	require.NoError(t, os.WriteFile(planPath, []byte(plan), 0644))

	return &shiftFixture{
		ws:      ws,
		store:   tasks.NewStore(planPath),
		monitor: telemetry.NewMonitor(telemetry.Config{Kind: telemetry.KindManager, WindowTokens: 200000}),
		journal: NewJournal(ws),
	}
}

func (f *shiftFixture) manager(t *testing.T, delegate Delegate) *Manager {
	t.Helper()
	return f.managerWith(t, delegate, recovery.Config{})
}

func (f *shiftFixture) managerWith(t *testing.T, delegate Delegate, recov recovery.Config) *Manager {
	t.Helper()
	m := NewManager(f.ws, "proj", f.store, f.monitor, f.journal, delegate, recov, 5, 5)
	m.sleep = func(time.Duration) {}
	return m
}

// leaveWorkerResult writes the completion record a delegate's worker would
// have left behind.
func leaveWorkerResult(t *testing.T, ws string, rec worker.CompletionRecord) {
	t.Helper()
	dir := filepath.Join(ws, ".foreman")
	require.NoError(t, os.MkdirAll(dir, 0755))
	data, err := json.MarshalIndent(rec, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker-result.json"), data, 0644))
}

func TestShiftCompletesPlan(t *testing.T) {
	f := newShiftFixture(t, "## Layer 0\n- [ ] T1: first\n- [ ] T2: second\n")

	var delegated []string
	m := f.manager(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		delegated = append(delegated, task.ID)
		leaveWorkerResult(t, f.ws, worker.CompletionRecord{TaskID: task.ID, Summary: "done", BuildPassed: true, TestsPassed: true})
		return recovery.ExitSuccess
	})
	require.NoError(t, m.Start())

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, result.Outcome)
	assert.Equal(t, []string{"T1", "T2"}, delegated)
	assert.Equal(t, []string{"T1", "T2"}, result.Completed)
	assert.Empty(t, result.Failed)
	assert.Equal(t, recovery.ExitSuccess, result.Outcome.ExitCode())

	remaining, err := f.store.Remaining()
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestShiftRotatesWhenMonitorTrips(t *testing.T) {
	f := newShiftFixture(t, "## Layer 0\n- [ ] T1: never reached\n")
	_, err := f.monitor.RecordUsage(130000, "") // 65%, past the default threshold
	require.NoError(t, err)

	m := f.manager(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		t.Fatal("rotation must win over delegation")
		return recovery.ExitCrash
	})
	require.NoError(t, m.Start())

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRotate, result.Outcome)
	assert.Contains(t, result.Reason, "rotation threshold")
	assert.Equal(t, recovery.ExitRotation, result.Outcome.ExitCode())

	// The handoff exists and names the stall as its only accomplishment.
	doc, err := handoff.NewWriter(f.ws, "reader", nil, nil, 0, 0).Read()
	require.NoError(t, err)
	require.Len(t, doc.Accomplishments, 1)
	assert.Contains(t, doc.Accomplishments[0], "no tasks completed")
	assert.InDelta(t, 65.0, doc.FillPercent, 0.1)
}

func TestFailedTasksBecomeBlockersAndRotate(t *testing.T) {
	f := newShiftFixture(t, "## Layer 0\n- [ ] T1: flaky\n- [ ] T2: fine\n")

	m := f.manager(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		if task.ID == "T1" {
			return recovery.ExitTaskFailed
		}
		leaveWorkerResult(t, f.ws, worker.CompletionRecord{TaskID: task.ID, Summary: "done"})
		return recovery.ExitSuccess
	})
	require.NoError(t, m.Start())

	result, err := m.Run(context.Background())
	require.NoError(t, err)

	// T1 failed, T2 completed; with only the failed task left the shift
	// rotates rather than retrying its own failure.
	assert.Equal(t, OutcomeRotate, result.Outcome)
	assert.Contains(t, result.Reason, "none are eligible")
	assert.Equal(t, []string{"T2"}, result.Completed)
	assert.Equal(t, []string{"T1"}, result.Failed)

	doc, err := handoff.NewWriter(f.ws, "reader", nil, nil, 0, 0).Read()
	require.NoError(t, err)
	require.Len(t, doc.Blockers, 1)
	assert.Equal(t, "T1", doc.Blockers[0].TaskID)
	assert.Contains(t, doc.Blockers[0].Description, "worker failed")
}

func TestRepeatedWorkerFailuresEscalateToCrisis(t *testing.T) {
	f := newShiftFixture(t, "## Layer 0\n"+
		"- [ ] T1: a\n- [ ] T2: b\n- [ ] T3: c\n- [ ] T4: d\n- [ ] T5: e\n- [ ] T6: f\n")

	attempts := 0
	m := f.managerWith(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		attempts++
		return recovery.ExitTaskFailed
	}, recovery.Config{FailureCeiling: 5})
	require.NoError(t, m.Start())

	result, err := m.Run(context.Background())
	require.NoError(t, err)

	// The fifth consecutive failure ends the shift; no sixth worker is
	// spawned even though a sixth task is eligible.
	assert.Equal(t, 5, attempts)
	assert.Equal(t, OutcomeCrisis, result.Outcome)
	assert.Contains(t, result.Reason, "failure ceiling")
	assert.Equal(t, recovery.ExitCrisis, result.Outcome.ExitCode())
	assert.Len(t, result.Failed, 5)

	// The crisis handoff carries every failed task as a blocker.
	require.NotEmpty(t, result.HandoffPath)
	doc, err := handoff.NewWriter(f.ws, "reader", nil, nil, 0, 0).Read()
	require.NoError(t, err)
	assert.Len(t, doc.Blockers, 5)
}

func TestSuccessResetsTheFailureLadder(t *testing.T) {
	f := newShiftFixture(t, "## Layer 0\n- [ ] T1: a\n- [ ] T2: b\n- [ ] T3: c\n- [ ] T4: d\n")

	// Failures on T1 and T3 are interleaved with successes, so the counter
	// never reaches the ceiling of two.
	m := f.managerWith(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		if task.ID == "T1" || task.ID == "T3" {
			return recovery.ExitTaskFailed
		}
		leaveWorkerResult(t, f.ws, worker.CompletionRecord{TaskID: task.ID, Summary: "done"})
		return recovery.ExitSuccess
	}, recovery.Config{FailureCeiling: 2})
	require.NoError(t, m.Start())

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeRotate, result.Outcome)
	assert.Equal(t, []string{"T2", "T4"}, result.Completed)
	assert.ElementsMatch(t, []string{"T1", "T3"}, result.Failed)
}

func TestWorkerCrisisEndsShiftImmediately(t *testing.T) {
	f := newShiftFixture(t, "- [ ] T1: dangerous\n- [ ] T2: never reached\n")

	attempts := 0
	m := f.manager(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		attempts++
		return recovery.ExitCrisis
	})
	require.NoError(t, m.Start())

	result, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, OutcomeCrisis, result.Outcome)
	assert.Contains(t, result.Reason, "human intervention")

	require.NotEmpty(t, result.HandoffPath)
	data, err := os.ReadFile(result.HandoffPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "crisis")
}

func TestRepeatedCrashesAbortTheShift(t *testing.T) {
	f := newShiftFixture(t, "- [ ] T1: a\n- [ ] T2: b\n- [ ] T3: c\n")

	m := f.managerWith(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		return recovery.ExitCrash
	}, recovery.Config{FailureCeiling: 2})
	require.NoError(t, m.Start())

	_, err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shift aborted")
	assert.Contains(t, err.Error(), "consecutive crashes")
}

func TestSignificantResultDistillsDecision(t *testing.T) {
	f := newShiftFixture(t, "- [ ] T1: big refactor\n")

	m := f.manager(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		leaveWorkerResult(t, f.ws, worker.CompletionRecord{
			TaskID:  task.ID,
			Summary: "replaced the polling loop with a watcher",
			FileChanges: []worker.FileChange{
				{Path: "a.go", Added: 80}, {Path: "b.go", Added: 30}, {Path: "c.go", Added: 10},
			},
		})
		return recovery.ExitSuccess
	})
	require.NoError(t, m.Start())

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	ids, err := f.journal.RecentDecisionIDs(5)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, ids, m.Session().DecisionIDs)
}

func TestNewTechniqueAloneDistillsDecision(t *testing.T) {
	f := newShiftFixture(t, "- [ ] T1: second approach worked\n")

	// Tiny diff, but the worker changed approach mid-task; that alone is
	// worth a decision record.
	m := f.manager(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		leaveWorkerResult(t, f.ws, worker.CompletionRecord{
			TaskID:       task.ID,
			Summary:      "swapped the mutex for a channel after deadlocks",
			NewTechnique: true,
			FileChanges:  []worker.FileChange{{Path: "a.go", Added: 5, Removed: 5}},
		})
		return recovery.ExitSuccess
	})
	require.NoError(t, m.Start())

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	ids, err := f.journal.RecentDecisionIDs(5)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestInsignificantResultLeavesNoDecision(t *testing.T) {
	f := newShiftFixture(t, "- [ ] T1: tiny tweak\n")

	m := f.manager(t, func(ctx context.Context, task tasks.Task) recovery.ExitCode {
		leaveWorkerResult(t, f.ws, worker.CompletionRecord{
			TaskID:      task.ID,
			Summary:     "fixed a typo",
			FileChanges: []worker.FileChange{{Path: "a.go", Added: 2, Removed: 2}},
		})
		return recovery.ExitSuccess
	})
	require.NoError(t, m.Start())

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	ids, err := f.journal.RecentDecisionIDs(5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStartConsumesHandoff(t *testing.T) {
	f := newShiftFixture(t, "- [x] T1: already done\n")

	outgoing := handoff.NewWriter(f.ws, "old-session", nil, nil, 0, 0)
	_, err := outgoing.Write([]string{"completed T1"}, "", nil, 62)
	require.NoError(t, err)

	m := f.manager(t, nil)
	require.NoError(t, m.Start())

	doc, err := outgoing.Read()
	require.NoError(t, err)
	assert.Equal(t, m.Session().ID, doc.PickedUpBy)

	// A second manager arriving later does not re-consume it.
	m2 := f.manager(t, nil)
	require.NoError(t, m2.Start())
	doc, err = outgoing.Read()
	require.NoError(t, err)
	assert.Equal(t, m.Session().ID, doc.PickedUpBy)
}

func TestCancelledShiftRotates(t *testing.T) {
	f := newShiftFixture(t, "- [ ] T1: pending\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := f.manager(t, nil)
	require.NoError(t, m.Start())

	result, err := m.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRotate, result.Outcome)
	assert.Equal(t, "shift cancelled", result.Reason)
}

func TestWriteCrisisHandoff(t *testing.T) {
	f := newShiftFixture(t, "- [ ] T1: pending\n")
	m := f.manager(t, nil)
	require.NoError(t, m.Start())

	path, err := m.WriteCrisisHandoff("worker demanded intervention")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "worker demanded intervention")
}

func TestOutcomeExitCodes(t *testing.T) {
	assert.Equal(t, recovery.ExitSuccess, OutcomeComplete.ExitCode())
	assert.Equal(t, recovery.ExitRotation, OutcomeRotate.ExitCode())
	assert.Equal(t, recovery.ExitCrisis, OutcomeCrisis.ExitCode())
	assert.Equal(t, recovery.ExitCrash, Outcome("garbage").ExitCode())
}
