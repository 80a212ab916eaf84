package coordination

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is applied to events emitted without an explicit time-to-live.
const DefaultTTL = 30 * time.Minute

type EventType string

const (
	EventTypeTaskAssignment      EventType = "task_assignment"
	EventTypeStatusUpdate        EventType = "status_update"
	EventTypeCoordinationRequest EventType = "coordination_request"
	EventTypeSystemAlert         EventType = "system_alert"
	EventTypeSwarmSync           EventType = "swarm_sync"
	EventTypeEmergencyBroadcast  EventType = "emergency_broadcast"
	EventTypeAgentJoin           EventType = "agent_join"
	EventTypeAgentLeave          EventType = "agent_leave"
)

// AllEventTypes lists every event type the core dispatches, for callers
// that register one handler across the whole taxonomy.
var AllEventTypes = []EventType{
	EventTypeTaskAssignment,
	EventTypeStatusUpdate,
	EventTypeCoordinationRequest,
	EventTypeSystemAlert,
	EventTypeSwarmSync,
	EventTypeEmergencyBroadcast,
	EventTypeAgentJoin,
	EventTypeAgentLeave,
}

// EventPriority orders dispatch. A higher value is more urgent and is
// always drained first.
type EventPriority int

const (
	PriorityLow EventPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

func (p EventPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name to its level. Unknown names fall
// back to normal.
func ParsePriority(name string) EventPriority {
	switch name {
	case "low":
		return PriorityLow
	case "normal", "":
		return PriorityNormal
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

func (p EventPriority) valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// Event is the unit of communication between agents. Fields are set once at
// emission and never mutated afterwards. Payload is caller-owned and is not
// copied by the core.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Targets   []string       `json:"targets"`
	Priority  EventPriority  `json:"priority"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	TTL       time.Duration  `json:"ttl"`
}

// NewEvent builds an event with a fresh id and the current UTC timestamp.
// The ttl is stored as given; a ttl <= 0 yields an event that is already
// expired and will never be dispatched.
func NewEvent(eventType EventType, source string, targets []string, payload map[string]any, priority EventPriority, ttl time.Duration) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Targets:   targets,
		Priority:  priority,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		TTL:       ttl,
	}
}

// Expired reports whether the event has outlived its ttl at the given time.
func (e Event) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return true
	}
	return now.Sub(e.Timestamp) > e.TTL
}
