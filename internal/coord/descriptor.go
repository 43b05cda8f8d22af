package coord

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gammazero/toposort"
)

// TaskDescriptor is the parsed coordination metadata for a task.
// It is produced by an external collaborator (see internal/taskfile) and is
// immutable once handed to the Coordinator.
type TaskDescriptor struct {
	TaskID             string
	Mode               string
	Priority           string
	ParallelSafety     string
	EstimatedDuration  time.Duration
	ConflictsWith      []string
	DependsOn          []string
	ModifiesFiles      []string
	ReadsFiles         []string
	LockedResources    []string
	ParallelCompatible bool
}

// Normalize canonicalizes the descriptor's file sets in place: paths are
// cleaned, converted to forward slashes, and de-duplicated while preserving
// first-seen order.
func (d *TaskDescriptor) Normalize() {
	d.ModifiesFiles = canonicalizePaths(d.ModifiesFiles)
	d.ReadsFiles = canonicalizePaths(d.ReadsFiles)
	d.LockedResources = dedupe(d.LockedResources)
}

// WriteTargets returns every resource the task needs exclusive access to:
// the files it modifies plus its named locked resources.
func (d *TaskDescriptor) WriteTargets() []string {
	targets := make([]string, 0, len(d.ModifiesFiles)+len(d.LockedResources))
	targets = append(targets, d.ModifiesFiles...)
	targets = append(targets, d.LockedResources...)
	return dedupe(targets)
}

func canonicalizePaths(paths []string) []string {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		cleaned = append(cleaned, path.Clean(strings.ReplaceAll(p, "\\", "/")))
	}
	return dedupe(cleaned)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// ValidateSet checks a set of descriptors for dependency consistency and
// returns a topological admission order. It fails if a descriptor depends on
// a task outside the set or if the dependency edges contain a cycle.
func ValidateSet(descriptors []*TaskDescriptor) ([]string, error) {
	byID := make(map[string]*TaskDescriptor, len(descriptors))
	for _, d := range descriptors {
		if d.TaskID == "" {
			return nil, fmt.Errorf("descriptor with empty task id")
		}
		if _, exists := byID[d.TaskID]; exists {
			return nil, fmt.Errorf("duplicate task id %q", d.TaskID)
		}
		byID[d.TaskID] = d
	}

	for _, d := range descriptors {
		for _, depID := range d.DependsOn {
			if _, exists := byID[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on unknown task %q", d.TaskID, depID)
			}
		}
	}

	// Edge (dep, task) means dep must be admitted before task.
	var edges []toposort.Edge
	for _, d := range descriptors {
		if len(d.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, d.TaskID})
			continue
		}
		for _, depID := range d.DependsOn {
			edges = append(edges, toposort.Edge{depID, d.TaskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency cycle: %w", err)
	}

	order := make([]string, 0, len(descriptors))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(descriptors) {
		missing := []string{}
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for id := range byID {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("admission order lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}
