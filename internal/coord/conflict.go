package coord

import (
	"fmt"
	"time"
)

// CompletionOracle reports whether a dependency task has finished. The
// concrete completion signal lives outside the core; the persistence layer
// provides a record-backed implementation.
type CompletionOracle interface {
	IsTaskComplete(taskID string) (bool, error)
}

// OracleFunc adapts a function to the CompletionOracle interface.
type OracleFunc func(taskID string) (bool, error)

func (f OracleFunc) IsTaskComplete(taskID string) (bool, error) { return f(taskID) }

// Evaluate returns every reason the described task cannot start right now,
// against point-in-time snapshots of the lock table and agent registry.
// All checks run; nothing short-circuits, so the caller sees the complete
// blocking picture. An empty result means the task is admissible.
//
// Evaluate mutates nothing. Callers needing check-then-act atomicity hold
// the coordination mutex across this call and the actions that follow.
func Evaluate(d *TaskDescriptor, locks []Lock, agents []Agent, oracle CompletionOracle, now time.Time) []string {
	var reasons []string

	liveByResource := make(map[string]Lock, len(locks))
	for _, l := range locks {
		if !l.Expired(now) {
			liveByResource[l.Resource] = l
		}
	}
	for _, file := range d.ModifiesFiles {
		if l, locked := liveByResource[file]; locked {
			reasons = append(reasons, fmt.Sprintf("file locked: %s by %s", file, l.Holder))
		}
	}

	for _, depID := range d.DependsOn {
		done, err := oracle.IsTaskComplete(depID)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("dependency state unknown: %s (%v)", depID, err))
			continue
		}
		if !done {
			reasons = append(reasons, fmt.Sprintf("dependency not complete: %s", depID))
		}
	}

	conflicting := make(map[string]bool, len(d.ConflictsWith))
	for _, taskID := range d.ConflictsWith {
		conflicting[taskID] = true
	}
	for _, a := range agents {
		if conflicting[a.CurrentTask] {
			reasons = append(reasons, fmt.Sprintf("conflicting task active: %s", a.CurrentTask))
		}
	}

	return reasons
}
