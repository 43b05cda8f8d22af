package events

import (
	"time"
)

// Event is the base interface for all coordination events.
type Event interface {
	EventType() string
	AgentID() string
}

// Topic constants
const (
	TopicAdmission = "admission"
	TopicLifecycle = "lifecycle"
	TopicReclaim   = "reclaim"
)

// Event type constants
const (
	EventTypeAgentAdmitted   = "admission.admitted"
	EventTypeAgentRejected   = "admission.rejected"
	EventTypeAgentReleased   = "lifecycle.released"
	EventTypeAgentStatus     = "lifecycle.status"
	EventTypeLocksSwept      = "reclaim.locks_swept"
	EventTypeAgentsReclaimed = "reclaim.agents_reclaimed"
)

// AgentAdmittedEvent is published when an admission succeeds and the agent
// holds write locks on its declared targets.
type AgentAdmittedEvent struct {
	ID        string
	TaskID    string
	Locked    []string
	Timestamp time.Time
}

func (e AgentAdmittedEvent) EventType() string { return EventTypeAgentAdmitted }
func (e AgentAdmittedEvent) AgentID() string   { return e.ID }

// AgentRejectedEvent is published when an admission is refused.
type AgentRejectedEvent struct {
	ID        string
	TaskPath  string
	Reasons   []string
	Timestamp time.Time
}

func (e AgentRejectedEvent) EventType() string { return EventTypeAgentRejected }
func (e AgentRejectedEvent) AgentID() string   { return e.ID }

// AgentReleasedEvent is published when an agent's locks are released and it
// leaves the registry.
type AgentReleasedEvent struct {
	ID        string
	Released  []string
	Timestamp time.Time
}

func (e AgentReleasedEvent) EventType() string { return EventTypeAgentReleased }
func (e AgentReleasedEvent) AgentID() string   { return e.ID }

// AgentStatusEvent is published on lifecycle status changes.
type AgentStatusEvent struct {
	ID        string
	Status    string
	Timestamp time.Time
}

func (e AgentStatusEvent) EventType() string { return EventTypeAgentStatus }
func (e AgentStatusEvent) AgentID() string   { return e.ID }

// LocksSweptEvent is published when the reclamation pass removes expired
// locks.
type LocksSweptEvent struct {
	Resources []string
	Timestamp time.Time
}

func (e LocksSweptEvent) EventType() string { return EventTypeLocksSwept }
func (e LocksSweptEvent) AgentID() string   { return "" }

// AgentsReclaimedEvent is published when stale agents are force-released.
type AgentsReclaimedEvent struct {
	Agents    []string
	Timestamp time.Time
}

func (e AgentsReclaimedEvent) EventType() string { return EventTypeAgentsReclaimed }
func (e AgentsReclaimedEvent) AgentID() string   { return "" }
