// Package shift implements the manager-side session state machine: start a
// session, repeatedly select and delegate work, record results, and decide
// whether to rotate or complete.
package shift

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"foreman/internal/logging"

	"github.com/google/uuid"
)

// DecisionRecord is a durable, append-only note capturing a notable
// implementation choice, linked to the task and changes that produced it.
type DecisionRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TaskID    string    `json:"task_id"`
	Summary   string    `json:"summary"`
	Files     int       `json:"files"`
	NetLines  int       `json:"net_lines"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is the append-only decision-record store at
// .foreman/decisions.json.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal opens the project decision journal.
func NewJournal(workspace string) *Journal {
	return &Journal{path: filepath.Join(workspace, ".foreman", "decisions.json")}
}

// Append adds a record and returns its id. Records are never mutated or
// removed once written.
func (j *Journal) Append(rec DecisionRecord) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.loadLocked()
	if err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = "DR-" + uuid.NewString()[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal decisions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return "", fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write decisions: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return "", fmt.Errorf("failed to publish decisions: %w", err)
	}

	logging.Shift("decision recorded: %s (task %s, %d files, %+d lines)", rec.ID, rec.TaskID, rec.Files, rec.NetLines)
	return rec.ID, nil
}

// RecentDecisionIDs returns the ids of the last n records, newest last.
// Implements the handoff decision source.
func (j *Journal) RecentDecisionIDs(n int) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.loadLocked()
	if err != nil {
		return nil, err
	}
	if n > len(records) {
		n = len(records)
	}
	ids := make([]string, 0, n)
	for _, rec := range records[len(records)-n:] {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

func (j *Journal) loadLocked() ([]DecisionRecord, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read decisions: %w", err)
	}
	var records []DecisionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse decisions: %w", err)
	}
	return records, nil
}
