package coord

import (
	"sort"
	"sync"
	"time"

	"github.com/renwick/coordinator/internal/clock"
)

// LockMode distinguishes shared read locks from exclusive write locks.
type LockMode string

const (
	LockRead  LockMode = "read"
	LockWrite LockMode = "write"
)

// DefaultLockTTL is how long a lock lives without explicit release.
const DefaultLockTTL = 60 * time.Minute

// Lock is a single live claim on a resource.
type Lock struct {
	Resource   string
	Holder     string
	Mode       LockMode
	Purpose    string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock is logically absent at the given instant.
func (l Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// LockTable tracks live locks per resource. Any number of read locks may
// coexist on one resource; a write lock excludes everything else. Expired
// entries are treated as absent and removed lazily on access, or in bulk by
// SweepExpired.
//
// The table's own mutex makes individual operations atomic, but callers that
// need check-then-act semantics across the table and the agent registry must
// serialize through the Coordinator.
type LockTable struct {
	mu    sync.Mutex
	locks map[string][]Lock
	ttl   time.Duration
	clk   clock.Clock
}

// NewLockTable creates an empty table. A non-positive ttl selects
// DefaultLockTTL.
func NewLockTable(clk clock.Clock, ttl time.Duration) *LockTable {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &LockTable{
		locks: make(map[string][]Lock),
		ttl:   ttl,
		clk:   clk,
	}
}

// TryAcquire installs a lock on resource for agentID with a fresh TTL.
// It is non-blocking: if a conflicting live lock exists it returns false
// with no side effects beyond lazy removal of expired entries.
func (t *LockTable) TryAcquire(resource, agentID string, mode LockMode, purpose string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	live := t.pruneLocked(resource, now)

	for _, l := range live {
		if l.Mode == LockWrite || mode == LockWrite {
			return false
		}
	}

	t.locks[resource] = append(live, Lock{
		Resource:   resource,
		Holder:     agentID,
		Mode:       mode,
		Purpose:    purpose,
		AcquiredAt: now,
		ExpiresAt:  now.Add(t.ttl),
	})
	return true
}

// Release removes agentID's lock on resource. Returns false if the resource
// is unlocked or held by someone else; that case is a no-op, not an error.
func (t *LockTable) Release(resource, agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := t.pruneLocked(resource, t.clk.Now())
	kept := live[:0:0]
	released := false
	for _, l := range live {
		if l.Holder == agentID {
			released = true
			continue
		}
		kept = append(kept, l)
	}
	if len(kept) == 0 {
		delete(t.locks, resource)
	} else {
		t.locks[resource] = kept
	}
	return released
}

// ReleaseHeldBy removes every lock held by agentID and returns the affected
// resources. Used on agent release so no lock can outlive its holder even if
// the registry's lock set drifted.
func (t *LockTable) ReleaseHeldBy(agentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []string
	for resource, entries := range t.locks {
		kept := entries[:0:0]
		for _, l := range entries {
			if l.Holder == agentID {
				released = append(released, resource)
				continue
			}
			kept = append(kept, l)
		}
		if len(kept) == 0 {
			delete(t.locks, resource)
		} else {
			t.locks[resource] = kept
		}
	}
	sort.Strings(released)
	return released
}

// SweepExpired removes every lock past its expiry and returns the resources
// that lost entries.
func (t *LockTable) SweepExpired() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	var swept []string
	for resource, entries := range t.locks {
		kept := entries[:0:0]
		for _, l := range entries {
			if l.Expired(now) {
				swept = append(swept, resource)
				continue
			}
			kept = append(kept, l)
		}
		if len(kept) == 0 {
			delete(t.locks, resource)
		} else {
			t.locks[resource] = kept
		}
	}
	sort.Strings(swept)
	return swept
}

// Snapshot returns copies of all live locks, ordered by resource.
func (t *LockTable) Snapshot() []Lock {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	var out []Lock
	for _, entries := range t.locks {
		for _, l := range entries {
			if !l.Expired(now) {
				out = append(out, l)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Holder < out[j].Holder
	})
	return out
}

// Restore replaces the table's contents, dropping entries already expired.
// Used when reloading persisted state at startup.
func (t *LockTable) Restore(locks []Lock) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	t.locks = make(map[string][]Lock)
	for _, l := range locks {
		if l.Expired(now) {
			continue
		}
		t.locks[l.Resource] = append(t.locks[l.Resource], l)
	}
}

// pruneLocked drops expired entries for one resource and returns the live
// remainder. Caller must hold t.mu.
func (t *LockTable) pruneLocked(resource string, now time.Time) []Lock {
	entries := t.locks[resource]
	live := entries[:0:0]
	for _, l := range entries {
		if !l.Expired(now) {
			live = append(live, l)
		}
	}
	if len(live) == 0 {
		delete(t.locks, resource)
	} else {
		t.locks[resource] = live
	}
	return live
}
