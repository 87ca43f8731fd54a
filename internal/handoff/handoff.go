// Package handoff serializes a manager session's accomplishments, blockers
// and next priorities into the durable document the next manager boots from.
// Two files are written at the fixed rotation-state path: HANDOFF.md for
// humans and handoff.json so a follow-on reader need not re-derive structure
// from prose.
package handoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"foreman/internal/logging"

	"github.com/google/uuid"
)

// ErrNoHandoff signals that no handoff document exists yet.
var ErrNoHandoff = errors.New("no handoff document")

// Blocker describes a task the outgoing manager could not finish.
type Blocker struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description"`
	Hint        string `json:"hint,omitempty"`
}

// Document is one immutable handoff. PickedUpBy is the only field stamped
// after write, exactly once, by the consuming session.
type Document struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	CreatedAt         time.Time `json:"created_at"`
	Accomplishments   []string  `json:"accomplishments"`
	ArchitectureDelta string    `json:"architecture_delta,omitempty"`
	Blockers          []Blocker `json:"blockers,omitempty"`
	DecisionIDs       []string  `json:"decision_ids,omitempty"`
	NextTaskIDs       []string  `json:"next_task_ids,omitempty"`
	FillPercent       float64   `json:"fill_percent"`
	PickedUpBy        string    `json:"picked_up_by,omitempty"`
}

// DecisionSource provides recent decision-record ids for snapshotting.
type DecisionSource interface {
	RecentDecisionIDs(n int) ([]string, error)
}

// PrioritySource provides the next pending task ids for snapshotting.
type PrioritySource interface {
	Pending(n int) ([]string, error)
}

// Writer produces and consumes handoff documents for one project.
type Writer struct {
	dir           string // fixed rotation-state path, .foreman/rotation
	sessionID     string
	decisions     DecisionSource
	priorities    PrioritySource
	decisionCount int
	priorityCount int
}

// NewWriter creates a writer rooted at the workspace rotation-state path.
func NewWriter(workspace, sessionID string, decisions DecisionSource, priorities PrioritySource, decisionCount, priorityCount int) *Writer {
	if decisionCount <= 0 {
		decisionCount = 5
	}
	if priorityCount <= 0 {
		priorityCount = 5
	}
	return &Writer{
		dir:           filepath.Join(workspace, ".foreman", "rotation"),
		sessionID:     sessionID,
		decisions:     decisions,
		priorities:    priorities,
		decisionCount: decisionCount,
		priorityCount: priorityCount,
	}
}

// Write snapshots decision ids and pending priorities at write time and
// persists the document. Accomplishments must be non-empty; a shift that
// achieved nothing still picked up a handoff or hit a stall worth naming.
func (w *Writer) Write(accomplishments []string, architectureDelta string, blockers []Blocker, fillPercent float64) (string, error) {
	if len(accomplishments) == 0 {
		return "", fmt.Errorf("handoff requires at least one accomplishment")
	}

	doc := Document{
		ID:                uuid.NewString(),
		SessionID:         w.sessionID,
		CreatedAt:         time.Now().UTC(),
		Accomplishments:   accomplishments,
		ArchitectureDelta: architectureDelta,
		Blockers:          blockers,
		FillPercent:       fillPercent,
	}

	// Snapshot, not live references: the next manager sees what was true now.
	if w.decisions != nil {
		ids, err := w.decisions.RecentDecisionIDs(w.decisionCount)
		if err != nil {
			logging.Get(logging.CategoryHandoff).Warn("decision snapshot failed: %v", err)
		} else {
			doc.DecisionIDs = ids
		}
	}
	if w.priorities != nil {
		ids, err := w.priorities.Pending(w.priorityCount)
		if err != nil {
			logging.Get(logging.CategoryHandoff).Warn("priority snapshot failed: %v", err)
		} else {
			doc.NextTaskIDs = ids
		}
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create rotation dir: %w", err)
	}
	if err := writeJSON(w.jsonPath(), doc); err != nil {
		return "", err
	}
	mdPath := filepath.Join(w.dir, "HANDOFF.md")
	if err := atomicWrite(mdPath, []byte(renderMarkdown(doc))); err != nil {
		return "", err
	}

	logging.Handoff("handoff %s written by session %s (fill %.1f%%, %d blockers)",
		doc.ID, doc.SessionID, doc.FillPercent, len(doc.Blockers))
	return mdPath, nil
}

// Read returns the most recent handoff document, or ErrNoHandoff.
func (w *Writer) Read() (*Document, error) {
	data, err := os.ReadFile(w.jsonPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoHandoff
		}
		return nil, fmt.Errorf("failed to read handoff: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse handoff: %w", err)
	}
	return &doc, nil
}

// MarkPickedUp stamps the consuming session id. Idempotent: once stamped,
// later calls are no-ops.
func (w *Writer) MarkPickedUp(sessionID string) error {
	doc, err := w.Read()
	if err != nil {
		return err
	}
	if doc.PickedUpBy != "" {
		logging.HandoffDebug("handoff %s already picked up by %s", doc.ID, doc.PickedUpBy)
		return nil
	}
	doc.PickedUpBy = sessionID
	if err := writeJSON(w.jsonPath(), *doc); err != nil {
		return err
	}
	logging.Handoff("handoff %s picked up by session %s", doc.ID, sessionID)
	return nil
}

func (w *Writer) jsonPath() string {
	return filepath.Join(w.dir, "handoff.json")
}

// renderMarkdown lays the document out for the human on call.
func renderMarkdown(doc Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Shift Handoff\n\n")
	fmt.Fprintf(&sb, "- Session: %s\n- Written: %s\n- Context fill: %.1f%%\n\n",
		doc.SessionID, doc.CreatedAt.Format(time.RFC3339), doc.FillPercent)

	sb.WriteString("## Accomplishments\n")
	for _, a := range doc.Accomplishments {
		fmt.Fprintf(&sb, "- %s\n", a)
	}

	if doc.ArchitectureDelta != "" {
		fmt.Fprintf(&sb, "\n## Architecture changes\n%s\n", doc.ArchitectureDelta)
	}

	if len(doc.Blockers) > 0 {
		sb.WriteString("\n## Blockers\n")
		for _, b := range doc.Blockers {
			fmt.Fprintf(&sb, "- %s: %s", b.TaskID, b.Description)
			if b.Hint != "" {
				fmt.Fprintf(&sb, " (try: %s)", b.Hint)
			}
			sb.WriteString("\n")
		}
	}

	if len(doc.DecisionIDs) > 0 {
		fmt.Fprintf(&sb, "\n## Recent decisions\n- %s\n", strings.Join(doc.DecisionIDs, "\n- "))
	}
	if len(doc.NextTaskIDs) > 0 {
		fmt.Fprintf(&sb, "\n## Next priorities\n- %s\n", strings.Join(doc.NextTaskIDs, "\n- "))
	}
	return sb.String()
}

func writeJSON(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal handoff: %w", err)
	}
	return atomicWrite(path, data)
}

// atomicWrite publishes a file via temp-then-rename so readers never see a
// half-written document.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish %s: %w", path, err)
	}
	return nil
}
