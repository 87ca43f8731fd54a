package shift

import (
	"context"
	"fmt"
	"time"

	"foreman/internal/handoff"
	"foreman/internal/logging"
	"foreman/internal/recovery"
	"foreman/internal/tasks"
	"foreman/internal/telemetry"
	"foreman/internal/worker"

	"github.com/google/uuid"
)

// Significance thresholds for distilling a worker result into a decision
// record: a new technique, more than two files touched, or more than fifty
// net lines changed.
const (
	significantFiles    = 2
	significantNetLines = 50
)

// Outcome is how a shift ended.
type Outcome string

const (
	OutcomeComplete Outcome = "complete" // plan fully done, no handoff
	OutcomeRotate   Outcome = "rotate"   // handoff written, next manager takes over
	OutcomeCrisis   Outcome = "crisis"   // human intervention required
)

// ExitCode maps a shift outcome onto the subprocess wire contract.
func (o Outcome) ExitCode() recovery.ExitCode {
	switch o {
	case OutcomeComplete:
		return recovery.ExitSuccess
	case OutcomeRotate:
		return recovery.ExitRotation
	case OutcomeCrisis:
		return recovery.ExitCrisis
	default:
		return recovery.ExitCrash
	}
}

// Session is the manager-side session record. It is superseded, not
// destroyed, by the next manager's session.
type Session struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	StartedAt      time.Time `json:"started_at"`
	FillAtStart    float64   `json:"fill_at_start"`
	Fill           float64   `json:"fill"`
	AssignedTasks  []string  `json:"assigned_tasks,omitempty"`
	CompletedTasks []string  `json:"completed_tasks,omitempty"`
	DecisionIDs    []string  `json:"decision_ids,omitempty"`
	HandoffPath    string    `json:"handoff_path,omitempty"`
}

// Result is what a finished shift reports upward.
type Result struct {
	Outcome     Outcome
	Reason      string
	HandoffPath string
	Completed   []string
	Failed      []string
}

// Delegate performs the actual worker spawn for one task and reports the
// worker's protocol exit code. Supplied by the caller so the manager stays
// ignorant of process mechanics.
type Delegate func(ctx context.Context, task tasks.Task) recovery.ExitCode

// Manager drives one shift. Every worker exit code it observes passes
// through its own recovery controller, so repeated worker failures escalate
// to crisis inside the shift instead of leaking out as rotations.
type Manager struct {
	workspace  string
	session    Session
	store      *tasks.Store
	monitor    *telemetry.Monitor
	journal    *Journal
	handoffs   *handoff.Writer
	delegate   Delegate
	controller *recovery.Controller
	counter    *telemetry.TokenCounter

	// sleep is swappable in tests; retry verdicts back off for real in
	// production.
	sleep func(time.Duration)

	accomplishments []string
	blockers        []handoff.Blocker
	attempted       map[string]bool
}

// NewManager assembles a shift manager. The handoff writer is bound to the
// new session id so documents it produces name their author.
func NewManager(workspace, projectID string, store *tasks.Store, monitor *telemetry.Monitor, journal *Journal, delegate Delegate, recov recovery.Config, decisionCount, priorityCount int) *Manager {
	session := Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		StartedAt: time.Now().UTC(),
	}
	return &Manager{
		workspace:  workspace,
		session:    session,
		store:      store,
		monitor:    monitor,
		journal:    journal,
		handoffs:   handoff.NewWriter(workspace, session.ID, journal, store, decisionCount, priorityCount),
		delegate:   delegate,
		controller: recovery.NewController(recov),
		counter:    telemetry.NewTokenCounter(),
		sleep:      time.Sleep,
		attempted:  make(map[string]bool),
	}
}

// Session returns a copy of the manager session.
func (m *Manager) Session() Session { return m.session }

// Start opens the session: reads the current context status and consumes an
// unconsumed handoff if one exists.
func (m *Manager) Start() error {
	st := m.monitor.Status()
	m.session.FillAtStart = st.FillPercent
	m.session.Fill = st.FillPercent
	logging.Shift("session %s started (fill %.1f%%)", m.session.ID, st.FillPercent)

	doc, err := m.handoffs.Read()
	if err != nil {
		if err == handoff.ErrNoHandoff {
			return nil
		}
		return fmt.Errorf("failed to read handoff: %w", err)
	}
	if doc.PickedUpBy != "" {
		logging.ShiftDebug("handoff %s already consumed by %s", doc.ID, doc.PickedUpBy)
		return nil
	}

	if err := m.handoffs.MarkPickedUp(m.session.ID); err != nil {
		return fmt.Errorf("failed to mark handoff picked up: %w", err)
	}
	m.accomplishments = append(m.accomplishments,
		fmt.Sprintf("picked up handoff %s from session %s", doc.ID, doc.SessionID))
	return nil
}

// Run is the main shift loop. Rotation wins over everything: once the
// monitor trips, a handoff is written immediately even with tasks in
// flight. "No eligible task right now" with work remaining is also a
// rotation, because it does not mean "done".
func (m *Manager) Run(ctx context.Context) (Result, error) {
	result := Result{}

	for {
		if err := ctx.Err(); err != nil {
			return m.rotate(result, "shift cancelled")
		}

		if m.monitor.NeedsRotation() {
			return m.rotate(result, fmt.Sprintf("context fill %.1f%% reached the rotation threshold", m.session.Fill))
		}

		task, ok, err := m.store.NextSkipping(m.attempted)
		if err != nil {
			return result, fmt.Errorf("task selection failed: %w", err)
		}
		if !ok {
			remaining, err := m.store.Remaining()
			if err != nil {
				return result, fmt.Errorf("failed to count remaining tasks: %w", err)
			}
			if remaining > 0 {
				// Every remaining task already failed under this manager.
				// That surfaces as an ordinary rotation; the reason string
				// keeps it visible and the next manager gets a fresh try.
				return m.rotate(result, fmt.Sprintf("%d tasks remain but none are eligible", remaining))
			}
			result.Outcome = OutcomeComplete
			result.Reason = "plan complete"
			logging.Shift("session %s: plan complete (%d tasks this shift)", m.session.ID, len(result.Completed))
			return result, nil
		}

		m.session.AssignedTasks = append(m.session.AssignedTasks, task.ID)
		m.attempted[task.ID] = true
		logging.Shift("session %s delegating task %s: %s", m.session.ID, task.ID, task.Title)

		code := m.delegate(ctx, task)
		verdict := m.controller.Observe(int(code))

		switch verdict.Action {
		case recovery.ActionProceed:
			if err := m.store.MarkComplete(task.ID); err != nil {
				logging.ShiftWarn("mark complete %s: %v", task.ID, err)
			}
			m.session.CompletedTasks = append(m.session.CompletedTasks, task.ID)
			result.Completed = append(result.Completed, task.ID)
			m.recordOutcome(task)
			m.accomplishments = append(m.accomplishments, fmt.Sprintf("completed %s: %s", task.ID, task.Title))

		case recovery.ActionRetry:
			// A failed worker does not stop the shift; the controller counts
			// it and the next eligible task gets a fresh worker.
			m.recordFailure(&result, task)
			logging.ShiftWarn("session %s: task %s failed (%s), moving on", m.session.ID, task.ID, verdict.Reason)
			m.sleep(verdict.Sleep)

		case recovery.ActionCrisis:
			m.recordFailure(&result, task)
			path, err := m.WriteCrisisHandoff(verdict.Reason)
			if err != nil {
				logging.ShiftWarn("crisis handoff failed: %v", err)
			}
			result.Outcome = OutcomeCrisis
			result.Reason = verdict.Reason
			result.HandoffPath = path
			logging.Shift("session %s escalating to crisis: %s", m.session.ID, verdict.Reason)
			return result, nil

		case recovery.ActionAbort:
			m.recordFailure(&result, task)
			return result, fmt.Errorf("shift aborted: %s", verdict.Reason)

		default:
			// Rotation codes cannot come from a worker; count the exit as a
			// plain failure.
			m.recordFailure(&result, task)
			logging.ShiftWarn("session %s: unexpected worker exit %d for task %s", m.session.ID, int(code), task.ID)
		}
	}
}

// recordFailure books a failed delegation as a blocker for the handoff.
func (m *Manager) recordFailure(result *Result, task tasks.Task) {
	result.Failed = append(result.Failed, task.ID)
	m.blockers = append(m.blockers, handoff.Blocker{
		TaskID:      task.ID,
		Description: fmt.Sprintf("worker failed: %s", task.Title),
		Hint:        m.lastErrorHint(),
	})
}

// rotate writes the handoff and wraps up the shift.
func (m *Manager) rotate(result Result, reason string) (Result, error) {
	st := m.monitor.Status()
	m.session.Fill = st.FillPercent

	accomplishments := m.accomplishments
	if len(accomplishments) == 0 {
		accomplishments = []string{"no tasks completed this shift: " + reason}
	}

	path, err := m.handoffs.Write(accomplishments, m.architectureDelta(), m.blockers, st.FillPercent)
	if err != nil {
		return result, fmt.Errorf("failed to write handoff: %w", err)
	}
	m.session.HandoffPath = path

	result.Outcome = OutcomeRotate
	result.Reason = reason
	result.HandoffPath = path
	logging.Shift("session %s rotating: %s", m.session.ID, reason)
	return result, nil
}

// recordOutcome consumes the worker completion record for a finished task:
// it ticks the manager's own context fill and distills a decision record
// when the result is significant.
func (m *Manager) recordOutcome(task tasks.Task) {
	rec, err := worker.ReadCompletionRecord(m.workspace)
	if err != nil || rec == nil || rec.TaskID != task.ID {
		if err != nil {
			logging.ShiftWarn("completion record unreadable: %v", err)
		}
		return
	}

	// Reviewing the worker's output consumes manager context.
	st, err := m.monitor.RecordUsage(m.counter.CountString(rec.Summary)+50*len(rec.FileChanges), task.ID)
	if err != nil {
		logging.ShiftWarn("telemetry write failed: %v", err)
	} else {
		m.session.Fill = st.FillPercent
	}

	net := rec.NetLines()
	if !rec.NewTechnique && len(rec.FileChanges) <= significantFiles && net <= significantNetLines {
		return
	}
	id, err := m.journal.Append(DecisionRecord{
		SessionID: m.session.ID,
		TaskID:    task.ID,
		Summary:   rec.Summary,
		Files:     len(rec.FileChanges),
		NetLines:  net,
	})
	if err != nil {
		logging.ShiftWarn("decision record failed: %v", err)
		return
	}
	m.session.DecisionIDs = append(m.session.DecisionIDs, id)
}

// architectureDelta summarizes this shift's structural changes from its
// decision records.
func (m *Manager) architectureDelta() string {
	if len(m.session.DecisionIDs) == 0 {
		return ""
	}
	return fmt.Sprintf("%d significant changes this shift; see decisions %v", len(m.session.DecisionIDs), m.session.DecisionIDs)
}

// lastErrorHint surfaces the worker's bounded last-error document as a
// resolution hint for the blocker list.
func (m *Manager) lastErrorHint() string {
	rec, err := worker.ReadCompletionRecord(m.workspace)
	if err != nil || rec == nil {
		return ""
	}
	if len(rec.Summary) > 200 {
		return rec.Summary[:200]
	}
	return rec.Summary
}

// WriteCrisisHandoff leaves a handoff and a clear reason when a shift
// escalates to crisis, so the human arriving later has somewhere to start.
func (m *Manager) WriteCrisisHandoff(reason string) (string, error) {
	st := m.monitor.Status()
	accomplishments := append(m.accomplishments, "shift escalated to crisis: "+reason)
	return m.handoffs.Write(accomplishments, m.architectureDelta(), m.blockers, st.FillPercent)
}
