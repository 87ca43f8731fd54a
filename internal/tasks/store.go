package tasks

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"foreman/internal/logging"
)

// Store is the checklist-backed task store. Reads re-parse the file so two
// independent stores on the same plan agree; writes are whole-file atomic
// rewrites. Only one writer is ever active by construction of the shift
// state machine, so no finer-grained locking is needed.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens a store over the plan document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the plan document path.
func (s *Store) Path() string { return s.path }

// Load reads and parses the full task list.
func (s *Store) Load() ([]Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	list, err := parseChecklist(string(data))
	if err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", s.path, err)
	}
	return list, nil
}

// Save writes the full task list back, via temp-file-then-rename.
func (s *Store) Save(list []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(list)
}

func (s *Store) saveLocked(list []Task) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(renderChecklist(list)), 0644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to publish plan: %w", err)
	}
	return nil
}

// Next returns the next eligible task: the incomplete task with the lowest
// (layer, id) ordering, or false if every task is complete.
func (s *Store) Next() (Task, bool, error) {
	return s.NextSkipping(nil)
}

// NextSkipping is Next with an exclusion set. Shift managers pass the tasks
// they already attempted this session so a failed task does not get
// re-selected until a fresh manager takes over.
func (s *Store) NextSkipping(skip map[string]bool) (Task, bool, error) {
	list, err := s.Load()
	if err != nil {
		return Task{}, false, err
	}

	pending := list[:0]
	for _, t := range list {
		if !t.Done && !skip[t.ID] {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return Task{}, false, nil
	}
	sort.Slice(pending, func(i, j int) bool { return less(pending[i], pending[j]) })
	logging.TasksDebug("next task: %s (layer %d)", pending[0].ID, pending[0].Layer)
	return pending[0], true, nil
}

// MarkComplete flips the completion flag for id and rewrites the plan.
// Unknown ids and already-complete ids return ErrTaskNotFound; the flip is
// idempotent and keyed by identifier only.
func (s *Store) MarkComplete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.Load()
	if err != nil {
		return err
	}
	for i := range list {
		if list[i].ID == id && !list[i].Done {
			list[i].Done = true
			if err := s.saveLocked(list); err != nil {
				return err
			}
			logging.Tasks("task complete: %s", id)
			return nil
		}
	}
	return fmt.Errorf("mark complete %s: %w", id, ErrTaskNotFound)
}

// Remaining counts incomplete tasks project-wide.
func (s *Store) Remaining() (int, error) {
	list, err := s.Load()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range list {
		if !t.Done {
			n++
		}
	}
	return n, nil
}

// Pending returns up to n incomplete task ids in selector order, with
// duplicates removed. Used to snapshot next priorities into handoffs.
func (s *Store) Pending(n int) ([]string, error) {
	list, err := s.Load()
	if err != nil {
		return nil, err
	}
	pending := make([]Task, 0, len(list))
	for _, t := range list {
		if !t.Done {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return less(pending[i], pending[j]) })

	seen := make(map[string]bool, len(pending))
	ids := make([]string, 0, n)
	for _, t := range pending {
		if len(ids) >= n {
			break
		}
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// Get returns the task with the given id.
func (s *Store) Get(id string) (Task, error) {
	list, err := s.Load()
	if err != nil {
		return Task{}, err
	}
	for _, t := range list {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("get %s: %w", id, ErrTaskNotFound)
}
