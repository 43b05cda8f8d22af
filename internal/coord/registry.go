package coord

import (
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/renwick/coordinator/internal/clock"
)

// AgentStatus is an agent's position in its lifecycle.
type AgentStatus string

const (
	AgentStarting  AgentStatus = "starting"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// DefaultStaleThreshold is how long an agent may go without a heartbeat
// before reclamation presumes it dead.
const DefaultStaleThreshold = 15 * time.Minute

// Agent is a registered worker and its current task.
type Agent struct {
	ID                  string
	Mode                string
	CurrentTask         string
	TaskPath            string
	Status              AgentStatus
	StartedAt           time.Time
	EstimatedCompletion time.Time
	LockedResources     []string
	ParallelCompatible  bool
	Heartbeat           time.Time
}

// AgentRegistry tracks registered agents by ID. Agents are mutated only
// through Coordinator operations; the registry itself guards the map but
// leaves cross-table consistency to the Coordinator.
type AgentRegistry struct {
	mu     sync.Mutex
	agents map[string]*Agent
	clk    clock.Clock
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry(clk clock.Clock) *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[string]*Agent),
		clk:    clk,
	}
}

// Register adds an agent in status starting with an empty lock set.
// Returns false if the ID is already registered.
func (r *AgentRegistry) Register(agentID, mode, taskPath string, d *TaskDescriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; exists {
		return false
	}

	now := r.clk.Now()
	currentTask := d.TaskID
	if currentTask == "" {
		currentTask = filepath.Base(taskPath)
	}
	r.agents[agentID] = &Agent{
		ID:                  agentID,
		Mode:                mode,
		CurrentTask:         currentTask,
		TaskPath:            taskPath,
		Status:              AgentStarting,
		StartedAt:           now,
		EstimatedCompletion: now.Add(d.EstimatedDuration),
		LockedResources:     []string{},
		ParallelCompatible:  d.ParallelCompatible,
		Heartbeat:           now,
	}
	return true
}

// Unregister removes the agent. It does not touch the lock table; the
// Coordinator releases locks first so a failure here cannot orphan them.
func (r *AgentRegistry) Unregister(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; !exists {
		return false
	}
	delete(r.agents, agentID)
	return true
}

// UpdateStatus sets the agent's lifecycle status and refreshes its
// heartbeat. Returns false if the agent is absent.
func (r *AgentRegistry) UpdateStatus(agentID string, status AgentStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return false
	}
	a.Status = status
	a.Heartbeat = r.clk.Now()
	return true
}

// TouchHeartbeat refreshes the agent's heartbeat. Returns false if absent.
func (r *AgentRegistry) TouchHeartbeat(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return false
	}
	a.Heartbeat = r.clk.Now()
	return true
}

// AddLock records a resource in the agent's lock set. Returns false if the
// agent is absent.
func (r *AgentRegistry) AddLock(agentID, resource string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return false
	}
	for _, held := range a.LockedResources {
		if held == resource {
			return true
		}
	}
	a.LockedResources = append(a.LockedResources, resource)
	return true
}

// RemoveLock drops a resource from the agent's lock set.
func (r *AgentRegistry) RemoveLock(agentID, resource string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return false
	}
	for i, held := range a.LockedResources {
		if held == resource {
			a.LockedResources = append(a.LockedResources[:i], a.LockedResources[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the agent, if registered.
func (r *AgentRegistry) Get(agentID string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return Agent{}, false
	}
	return cloneAgent(a), true
}

// ListStale returns IDs of agents whose heartbeat is older than threshold.
// A non-positive threshold selects DefaultStaleThreshold.
func (r *AgentRegistry) ListStale(threshold time.Duration) []string {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	var stale []string
	for id, a := range r.agents {
		if now.Sub(a.Heartbeat) > threshold {
			stale = append(stale, id)
		}
	}
	sort.Strings(stale)
	return stale
}

// Snapshot returns copies of all registered agents, ordered by ID.
func (r *AgentRegistry) Snapshot() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the registry's contents. Used when reloading persisted
// state at startup.
func (r *AgentRegistry) Restore(agents []Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.agents = make(map[string]*Agent, len(agents))
	for _, a := range agents {
		cp := cloneAgent(&a)
		r.agents[a.ID] = &cp
	}
}

func cloneAgent(a *Agent) Agent {
	cp := *a
	cp.LockedResources = append([]string(nil), a.LockedResources...)
	return cp
}
