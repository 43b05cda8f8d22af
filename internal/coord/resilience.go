package coord

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// guardedStore wraps the Store behind a circuit breaker. A persistently
// failing store opens the breaker and coordination reports itself disabled
// until the store recovers; the in-memory tables keep their invariants
// either way.
type guardedStore struct {
	store Store
	cb    *gobreaker.CircuitBreaker
}

func newGuardedStore(store Store) *guardedStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coordination-store",
		MaxRequests: 3, // Allow 3 test requests in half-open state
		Interval:    0, // Don't clear counts automatically
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Don't count caller cancellation as a store failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	return &guardedStore{store: store, cb: cb}
}

// Healthy reports whether the breaker currently admits store traffic.
func (g *guardedStore) Healthy() bool {
	return g.cb.State() != gobreaker.StateOpen
}

func (g *guardedStore) exec(op func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, op()
	})
	return err
}

func (g *guardedStore) CommitAdmission(ctx context.Context, agent Agent, locks []Lock) error {
	return g.exec(func() error { return g.store.CommitAdmission(ctx, agent, locks) })
}

func (g *guardedStore) CommitRelease(ctx context.Context, agentID string) error {
	return g.exec(func() error { return g.store.CommitRelease(ctx, agentID) })
}

func (g *guardedStore) CommitReclaim(ctx context.Context, now time.Time, staleAgents []string) error {
	return g.exec(func() error { return g.store.CommitReclaim(ctx, now, staleAgents) })
}

func (g *guardedStore) SaveAgent(ctx context.Context, agent Agent) error {
	return g.exec(func() error { return g.store.SaveAgent(ctx, agent) })
}

func (g *guardedStore) LoadState(ctx context.Context) ([]Lock, []Agent, error) {
	var locks []Lock
	var agents []Agent
	err := g.exec(func() error {
		var loadErr error
		locks, agents, loadErr = g.store.LoadState(ctx)
		return loadErr
	})
	return locks, agents, err
}

func (g *guardedStore) MarkTaskComplete(ctx context.Context, taskID string, completedAt time.Time) error {
	return g.exec(func() error { return g.store.MarkTaskComplete(ctx, taskID, completedAt) })
}
