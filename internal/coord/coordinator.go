package coord

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/renwick/coordinator/internal/clock"
	"github.com/renwick/coordinator/internal/events"
)

// DescriptorSource produces a task's coordination descriptor from its source
// location. An error means the descriptor is unavailable; admission treats
// that as a rejection, never a crash.
type DescriptorSource interface {
	Parse(taskPath string) (*TaskDescriptor, error)
}

// Store is the persistence contract the Coordinator commits through. Each
// Commit method must apply its whole mutation in one serializable
// transaction, so a crash can never leave the two tables half-written.
type Store interface {
	CommitAdmission(ctx context.Context, agent Agent, locks []Lock) error
	CommitRelease(ctx context.Context, agentID string) error
	CommitReclaim(ctx context.Context, now time.Time, staleAgents []string) error
	SaveAgent(ctx context.Context, agent Agent) error
	LoadState(ctx context.Context) ([]Lock, []Agent, error)
	MarkTaskComplete(ctx context.Context, taskID string, completedAt time.Time) error
}

// Admission is the outcome of one admission attempt. A rejection is a normal
// result carrying the complete list of blocking reasons, not an error.
type Admission struct {
	Admitted bool
	AgentID  string
	TaskID   string
	Locked   []string
	Reasons  []string
}

// ReclaimReport summarizes one reclamation pass.
type ReclaimReport struct {
	SweptLocks      []string
	ReclaimedAgents []string
}

// StatusReport is a consistent point-in-time view of coordination state.
type StatusReport struct {
	ActiveAgents        int
	ActiveLocks         int
	Agents              []Agent
	Locks               []Lock
	CoordinationEnabled bool
	GeneratedAt         time.Time
}

// Config configures a Coordinator.
type Config struct {
	LockTTL        time.Duration // default DefaultLockTTL
	StaleThreshold time.Duration // default DefaultStaleThreshold
	SweepInterval  time.Duration // default 2 minutes
	Clock          clock.Clock   // default system clock
	Source         DescriptorSource
	Oracle         CompletionOracle
	Store          Store
	Bus            *events.Bus // optional
}

// Coordinator owns the lock table and agent registry and serializes every
// admission, release, and reclamation through a single coordination mutex,
// so check-then-act sequences can never interleave destructively.
type Coordinator struct {
	mu       sync.Mutex
	cfg      Config
	clk      clock.Clock
	locks    *LockTable
	registry *AgentRegistry
	store    *guardedStore
	bus      *events.Bus
}

// New creates a Coordinator. Source, Oracle, and Store are required.
func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 2 * time.Minute
	}
	return &Coordinator{
		cfg:      cfg,
		clk:      cfg.Clock,
		locks:    NewLockTable(cfg.Clock, cfg.LockTTL),
		registry: NewAgentRegistry(cfg.Clock),
		store:    newGuardedStore(cfg.Store),
		bus:      cfg.Bus,
	}
}

// Load restores both tables from the store. Entries already expired are
// dropped on the way in; everything else ages out through the normal TTL and
// staleness rules.
func (c *Coordinator) Load(ctx context.Context) error {
	locks, agents, err := c.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("loading coordination state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.locks.Restore(locks)
	c.registry.Restore(agents)
	return nil
}

// AdmitAndRegister runs the full admission protocol for one agent: parse the
// descriptor, evaluate conflicts, register the agent, and write-lock every
// declared target. The whole sequence holds the coordination mutex, and any
// partial failure is rolled back so admission is atomic as observed from
// outside.
func (c *Coordinator) AdmitAndRegister(ctx context.Context, agentID, mode, taskPath string) (Admission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.cfg.Source.Parse(taskPath)
	if err != nil {
		return c.reject(agentID, taskPath, []string{fmt.Sprintf("descriptor unavailable: %v", err)}), nil
	}
	d.Normalize()

	now := c.clk.Now()
	reasons := Evaluate(d, c.locks.Snapshot(), c.registry.Snapshot(), c.cfg.Oracle, now)
	if _, exists := c.registry.Get(agentID); exists {
		reasons = append(reasons, fmt.Sprintf("agent already registered: %s", agentID))
	}
	if len(reasons) > 0 {
		return c.reject(agentID, taskPath, reasons), nil
	}

	if !c.registry.Register(agentID, mode, taskPath, d) {
		return c.reject(agentID, taskPath, []string{fmt.Sprintf("agent already registered: %s", agentID)}), nil
	}

	// Acquire write locks on every declared target. A failure here is a race
	// against state the evaluation could not see; undo everything.
	var acquired []string
	for _, target := range d.WriteTargets() {
		if !c.locks.TryAcquire(target, agentID, LockWrite, "task execution") {
			holder := c.liveHolder(target)
			c.rollbackAdmission(agentID, acquired)
			return c.reject(agentID, taskPath, []string{fmt.Sprintf("file locked: %s by %s", target, holder)}), nil
		}
		acquired = append(acquired, target)
		c.registry.AddLock(agentID, target)
	}

	agent, _ := c.registry.Get(agentID)
	if err := c.store.CommitAdmission(ctx, agent, c.heldLocks(agentID)); err != nil {
		c.rollbackAdmission(agentID, acquired)
		return Admission{}, fmt.Errorf("persisting admission of %s: %w", agentID, err)
	}

	c.publish(events.TopicAdmission, events.AgentAdmittedEvent{
		ID:        agentID,
		TaskID:    agent.CurrentTask,
		Locked:    acquired,
		Timestamp: now,
	})
	return Admission{
		Admitted: true,
		AgentID:  agentID,
		TaskID:   agent.CurrentTask,
		Locked:   acquired,
	}, nil
}

// Release frees every resource the agent holds and removes it from the
// registry. Idempotent: releasing an unknown or already-released agent is a
// safe no-op.
func (c *Coordinator) Release(ctx context.Context, agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked(ctx, agentID)
}

// releaseLocked is Release without the mutex, for callers already inside the
// critical section.
func (c *Coordinator) releaseLocked(ctx context.Context, agentID string) error {
	_, registered := c.registry.Get(agentID)

	// Persist the removal first; if the store is down, in-memory state stays
	// untouched and the caller can retry.
	if err := c.store.CommitRelease(ctx, agentID); err != nil {
		return fmt.Errorf("persisting release of %s: %w", agentID, err)
	}

	released := c.locks.ReleaseHeldBy(agentID)
	c.registry.Unregister(agentID)

	if registered || len(released) > 0 {
		c.publish(events.TopicLifecycle, events.AgentReleasedEvent{
			ID:        agentID,
			Released:  released,
			Timestamp: c.clk.Now(),
		})
	}
	return nil
}

// UpdateStatus moves the agent through its lifecycle and refreshes its
// heartbeat. Returns false if the agent is not registered.
func (c *Coordinator) UpdateStatus(ctx context.Context, agentID string, status AgentStatus) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, exists := c.registry.Get(agentID)
	if !exists {
		return false, nil
	}
	agent.Status = status
	agent.Heartbeat = c.clk.Now()
	if err := c.store.SaveAgent(ctx, agent); err != nil {
		return false, fmt.Errorf("persisting status of %s: %w", agentID, err)
	}
	c.registry.UpdateStatus(agentID, status)
	c.publish(events.TopicLifecycle, events.AgentStatusEvent{
		ID:        agentID,
		Status:    string(status),
		Timestamp: agent.Heartbeat,
	})
	return true, nil
}

// TouchHeartbeat refreshes the agent's heartbeat. Returns false if the agent
// is not registered.
func (c *Coordinator) TouchHeartbeat(ctx context.Context, agentID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, exists := c.registry.Get(agentID)
	if !exists {
		return false, nil
	}
	agent.Heartbeat = c.clk.Now()
	if err := c.store.SaveAgent(ctx, agent); err != nil {
		return false, fmt.Errorf("persisting heartbeat of %s: %w", agentID, err)
	}
	c.registry.TouchHeartbeat(agentID)
	return true, nil
}

// MarkTaskComplete records that a task finished, satisfying dependency
// checks in later admissions.
func (c *Coordinator) MarkTaskComplete(ctx context.Context, taskID string) error {
	if err := c.store.MarkTaskComplete(ctx, taskID, c.clk.Now()); err != nil {
		return fmt.Errorf("recording completion of %s: %w", taskID, err)
	}
	return nil
}

// Reclaim sweeps expired locks and force-releases stale agents. Safe to run
// on a timer alongside foreground admission traffic.
func (c *Coordinator) Reclaim(ctx context.Context) (ReclaimReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	stale := c.registry.ListStale(c.cfg.StaleThreshold)

	if err := c.store.CommitReclaim(ctx, now, stale); err != nil {
		return ReclaimReport{}, fmt.Errorf("persisting reclamation: %w", err)
	}

	swept := c.locks.SweepExpired()
	for _, agentID := range stale {
		c.locks.ReleaseHeldBy(agentID)
		c.registry.Unregister(agentID)
	}

	if len(swept) > 0 {
		c.publish(events.TopicReclaim, events.LocksSweptEvent{Resources: swept, Timestamp: now})
	}
	if len(stale) > 0 {
		c.publish(events.TopicReclaim, events.AgentsReclaimedEvent{Agents: stale, Timestamp: now})
	}
	return ReclaimReport{SweptLocks: swept, ReclaimedAgents: stale}, nil
}

// Status runs a reclamation pass and returns a snapshot of both tables.
func (c *Coordinator) Status(ctx context.Context) (StatusReport, error) {
	if _, err := c.Reclaim(ctx); err != nil {
		// A failing store disables coordination but status stays readable.
		log.Printf("WARNING: reclamation during status failed: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	agents := c.registry.Snapshot()
	locks := c.locks.Snapshot()
	return StatusReport{
		ActiveAgents:        len(agents),
		ActiveLocks:         len(locks),
		Agents:              agents,
		Locks:               locks,
		CoordinationEnabled: c.store.Healthy(),
		GeneratedAt:         c.clk.Now(),
	}, nil
}

// CompatibleTasks returns the IDs of descriptors that are flagged
// parallel-compatible and would be admitted right now. Read-only planning
// query; admission later may still lose a race and be rejected.
func (c *Coordinator) CompatibleTasks(descriptors []*TaskDescriptor) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	locks := c.locks.Snapshot()
	agents := c.registry.Snapshot()

	var compatible []string
	for _, d := range descriptors {
		if !d.ParallelCompatible {
			continue
		}
		if len(Evaluate(d, locks, agents, c.cfg.Oracle, now)) == 0 {
			compatible = append(compatible, d.TaskID)
		}
	}
	return compatible
}

// Run executes the reclamation sweep on a fixed interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := c.Reclaim(ctx)
			if err != nil {
				log.Printf("WARNING: reclamation sweep failed: %v", err)
				continue
			}
			if len(report.SweptLocks) > 0 || len(report.ReclaimedAgents) > 0 {
				log.Printf("reclaimed %d expired locks, %d stale agents",
					len(report.SweptLocks), len(report.ReclaimedAgents))
			}
		}
	}
}

// KeepAlive refreshes the agent's heartbeat on a fixed interval until ctx is
// done or the agent is no longer registered.
func (c *Coordinator) KeepAlive(ctx context.Context, agentID string, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ok, err := c.TouchHeartbeat(ctx, agentID)
			if err != nil {
				log.Printf("WARNING: heartbeat for %s failed: %v", agentID, err)
				continue
			}
			if !ok {
				return nil
			}
		}
	}
}

// reject builds a Rejected admission and publishes it. Caller holds c.mu.
func (c *Coordinator) reject(agentID, taskPath string, reasons []string) Admission {
	c.publish(events.TopicAdmission, events.AgentRejectedEvent{
		ID:        agentID,
		TaskPath:  taskPath,
		Reasons:   reasons,
		Timestamp: c.clk.Now(),
	})
	return Admission{AgentID: agentID, Reasons: reasons}
}

// rollbackAdmission undoes a partially completed admission. Caller holds c.mu.
func (c *Coordinator) rollbackAdmission(agentID string, acquired []string) {
	for _, resource := range acquired {
		c.locks.Release(resource, agentID)
	}
	c.registry.Unregister(agentID)
}

// heldLocks returns copies of the live locks held by agentID. Caller holds c.mu.
func (c *Coordinator) heldLocks(agentID string) []Lock {
	var held []Lock
	for _, l := range c.locks.Snapshot() {
		if l.Holder == agentID {
			held = append(held, l)
		}
	}
	return held
}

// liveHolder names the current holder of a resource, for rejection reasons.
// Caller holds c.mu.
func (c *Coordinator) liveHolder(resource string) string {
	for _, l := range c.locks.Snapshot() {
		if l.Resource == resource {
			return l.Holder
		}
	}
	return "unknown"
}

func (c *Coordinator) publish(topic string, event events.Event) {
	if c.bus != nil {
		c.bus.Publish(topic, event)
	}
}
