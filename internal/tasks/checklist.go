package tasks

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"foreman/internal/logging"
)

// Checklist line shapes:
//
//	## Layer 2
//	- [ ] T7: Wire the retry loop (after: T3, T5) {30m,4f,200l}
//	- [x] T3: Parse the plan
//
// Headings group tasks by dependency layer; the suffixes are optional.

// parseChecklist parses the markdown plan document into tasks.
func parseChecklist(data string) ([]Task, error) {
	var out []Task
	seen := make(map[string]bool)
	layer := 0

	for lineNo, raw := range strings.Split(data, "\n") {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, "## ") {
			n, err := parseLayerHeading(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			layer = n
			continue
		}

		done := false
		switch {
		case strings.HasPrefix(line, "- [ ] "):
		case strings.HasPrefix(line, "- [x] "), strings.HasPrefix(line, "- [X] "):
			done = true
		default:
			continue
		}

		task, err := parseTaskLine(line[len("- [ ] "):], layer, done)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}
		if seen[task.ID] {
			return nil, fmt.Errorf("line %d: duplicate task id %s", lineNo+1, task.ID)
		}
		seen[task.ID] = true
		out = append(out, task)
	}

	if err := validateGraph(out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseLayerHeading extracts N from "## Layer N".
func parseLayerHeading(line string) (int, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "## "))
	if !strings.HasPrefix(strings.ToLower(rest), "layer") {
		return 0, fmt.Errorf("unrecognized heading %q", line)
	}
	numStr := strings.TrimSpace(rest[len("layer"):])
	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid layer heading %q", line)
	}
	return n, nil
}

// parseTaskLine parses "T7: title (after: T3, T5) {30m,4f,200l}".
func parseTaskLine(body string, layer int, done bool) (Task, error) {
	task := Task{Layer: layer, Done: done}

	// Budget suffix
	if i := strings.LastIndex(body, "{"); i >= 0 && strings.HasSuffix(strings.TrimSpace(body), "}") {
		budget, err := parseBudget(strings.TrimSpace(body)[i:])
		if err != nil {
			return Task{}, err
		}
		task.Budget = budget
		body = strings.TrimSpace(body[:i])
	}

	// Prerequisite suffix
	if i := strings.LastIndex(body, "(after:"); i >= 0 && strings.HasSuffix(strings.TrimSpace(body), ")") {
		deps := strings.TrimSpace(body)
		deps = deps[i+len("(after:") : len(deps)-1]
		for _, d := range strings.Split(deps, ",") {
			if id := normalizeID(d); id != "" {
				task.DependsOn = append(task.DependsOn, id)
			}
		}
		body = strings.TrimSpace(body[:i])
	}

	id, title, ok := strings.Cut(body, ":")
	if !ok {
		return Task{}, fmt.Errorf("task line missing id/title separator: %q", body)
	}
	task.ID = normalizeID(id)
	task.Title = strings.TrimSpace(title)
	if task.ID == "" || task.Title == "" {
		return Task{}, fmt.Errorf("task line missing id or title: %q", body)
	}
	return task, nil
}

// parseBudget parses "{30m,4f,200l}" in any suffix order.
func parseBudget(s string) (Budget, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	var b Budget
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		unit := part[len(part)-1]
		n, err := strconv.Atoi(part[:len(part)-1])
		if err != nil || n < 0 {
			return Budget{}, fmt.Errorf("invalid budget element %q", part)
		}
		switch unit {
		case 'm':
			b.MaxMinutes = n
		case 'f':
			b.MaxFiles = n
		case 'l':
			b.MaxLines = n
		default:
			return Budget{}, fmt.Errorf("invalid budget unit %q", part)
		}
	}
	return b, nil
}

// validateGraph rejects dependency cycles outright. A prerequisite declared
// in an equal-or-higher layer only logs a warning: layer numbers are a
// convention the planner may get wrong without wedging the run.
func validateGraph(list []Task) error {
	byID := make(map[string]Task, len(list))
	for _, t := range list {
		byID[t.ID] = t
	}

	for _, t := range list {
		for _, dep := range t.DependsOn {
			pre, ok := byID[dep]
			if !ok {
				logging.TasksWarn("task %s depends on unknown task %s", t.ID, dep)
				continue
			}
			if pre.Layer >= t.Layer {
				logging.TasksWarn("task %s (layer %d) depends on %s (layer %d); layer ordering will not respect it",
					t.ID, t.Layer, dep, pre.Layer)
			}
		}
	}

	const (
		unvisited = 0
		visiting  = 1
		doneMark  = 2
	)
	state := make(map[string]int, len(list))

	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch state[id] {
		case doneMark:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle: %s", strings.Join(append(trail, id), " -> "))
		}
		state[id] = visiting
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if err := visit(dep, append(trail, id)); err != nil {
				return err
			}
		}
		state[id] = doneMark
		return nil
	}

	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// renderChecklist serializes tasks back to the checkbox markdown format,
// grouped by layer heading, preserving the external file contract.
func renderChecklist(list []Task) string {
	sorted := make([]Task, len(list))
	copy(sorted, list)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	var sb strings.Builder
	sb.WriteString("# Plan\n")
	lastLayer := -1
	for _, t := range sorted {
		if t.Layer != lastLayer {
			fmt.Fprintf(&sb, "\n## Layer %d\n", t.Layer)
			lastLayer = t.Layer
		}
		mark := " "
		if t.Done {
			mark = "x"
		}
		fmt.Fprintf(&sb, "- [%s] %s: %s", mark, t.ID, t.Title)
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(&sb, " (after: %s)", strings.Join(t.DependsOn, ", "))
		}
		if t.Budget != (Budget{}) {
			sb.WriteString(" {")
			var parts []string
			if t.Budget.MaxMinutes > 0 {
				parts = append(parts, fmt.Sprintf("%dm", t.Budget.MaxMinutes))
			}
			if t.Budget.MaxFiles > 0 {
				parts = append(parts, fmt.Sprintf("%df", t.Budget.MaxFiles))
			}
			if t.Budget.MaxLines > 0 {
				parts = append(parts, fmt.Sprintf("%dl", t.Budget.MaxLines))
			}
			sb.WriteString(strings.Join(parts, ","))
			sb.WriteString("}")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
