// Package tasks implements the checklist-backed task store and the
// deterministic selector used by shift managers. The on-disk format is the
// checkbox markdown plan; internal state is structured and every mutation is
// an atomic whole-file rewrite.
package tasks

import (
	"errors"
	"strconv"
	"strings"
)

// ErrTaskNotFound signals an unknown or already-complete task id. Completion
// is idempotent: flipping a flipped task is "not found", not a failure.
var ErrTaskNotFound = errors.New("task not found")

// Budget bounds a task's expected footprint. Zero means unbounded.
type Budget struct {
	MaxMinutes int `json:"max_minutes,omitempty"`
	MaxFiles   int `json:"max_files,omitempty"`
	MaxLines   int `json:"max_lines,omitempty"`
}

// Task is the atomic unit of work.
type Task struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Layer     int      `json:"layer"`
	DependsOn []string `json:"depends_on,omitempty"`
	Done      bool     `json:"done"`
	Budget    Budget   `json:"budget,omitempty"`
}

// seq extracts the numeric suffix of a sequence-numbered id ("T12" -> 12).
// Ids without a numeric suffix sort after numbered ones, lexicographically.
func seq(id string) (int, bool) {
	i := 0
	for i < len(id) && (id[i] < '0' || id[i] > '9') {
		i++
	}
	if i == len(id) {
		return 0, false
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// idLess orders task ids: numeric sequence when both parse, else lexical.
func idLess(a, b string) bool {
	na, oka := seq(a)
	nb, okb := seq(b)
	if oka && okb {
		if na != nb {
			return na < nb
		}
		return a < b
	}
	if oka != okb {
		return oka
	}
	return a < b
}

// less is the selector ordering: dependency layer ascending, id ascending.
// Determinism here is load-bearing; two selectors reading the same plan must
// agree because the manager has no other coordination mechanism.
func less(a, b Task) bool {
	if a.Layer != b.Layer {
		return a.Layer < b.Layer
	}
	return idLess(a.ID, b.ID)
}

// normalizeID trims whitespace around an id token.
func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
