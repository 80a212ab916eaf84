// Package swarm layers convenience operations over the coordination core:
// broadcasts to every active agent, targeted coordination requests, shared
// state snapshots and per-type dispatch statistics. It keeps no state of
// its own beyond the snapshot table and the counters.
package swarm

import (
	"log"
	"sync"
	"time"

	"swarmcore/internal/coordination"
)

type Coordinator struct {
	core   *coordination.Core
	logger *log.Logger

	stateMu sync.Mutex
	states  map[string]map[string]any

	statsMu sync.Mutex
	stats   map[coordination.EventType]uint64
}

func New(core *coordination.Core, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	c := &Coordinator{
		core:   core,
		logger: logger,
		states: make(map[string]map[string]any),
		stats:  make(map[coordination.EventType]uint64),
	}
	c.registerStatsHandlers()
	return c
}

// registerStatsHandlers hangs a counting handler on every event type so
// Stats counts dispatched events, not merely enqueued ones.
func (c *Coordinator) registerStatsHandlers() {
	for _, t := range coordination.AllEventTypes {
		eventType := t
		c.core.RegisterHandler(eventType, func(coordination.Event) error {
			c.statsMu.Lock()
			c.stats[eventType]++
			c.statsMu.Unlock()
			return nil
		})
	}
}

// Broadcast emits a single emergency_broadcast whose target list is the
// set of agents active at the moment of the call. Agents joining later do
// not retroactively receive it.
func (c *Coordinator) Broadcast(sourceAgent string, message map[string]any, priority coordination.EventPriority) string {
	targets := c.core.ActiveAgents()
	return c.core.Emit(
		coordination.EventTypeEmergencyBroadcast,
		sourceAgent,
		targets,
		message,
		priority,
	)
}

// RequestCoordination emits a coordination_request targeted solely at
// targetAgent and returns the event id for caller-side correlation. There
// is no built-in request/response matching.
func (c *Coordinator) RequestCoordination(requester, targetAgent, requestType string, details map[string]any) string {
	return c.core.Emit(
		coordination.EventTypeCoordinationRequest,
		requester,
		[]string{targetAgent},
		map[string]any{
			"request_type": requestType,
			"details":      details,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		},
		coordination.PriorityHigh,
	)
}

// SyncSwarmState overwrites the stored snapshot for the agent and emits a
// swarm_sync event carrying the same data to all active agents.
func (c *Coordinator) SyncSwarmState(agentID string, stateData map[string]any) bool {
	c.stateMu.Lock()
	c.states[agentID] = stateData
	c.stateMu.Unlock()

	targets := c.core.ActiveAgents()
	c.core.Emit(
		coordination.EventTypeSwarmSync,
		agentID,
		targets,
		stateData,
		coordination.PriorityNormal,
	)
	return true
}

// AgentState returns the last synced snapshot for the agent, if any.
func (c *Coordinator) AgentState(agentID string) (map[string]any, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	state, ok := c.states[agentID]
	return state, ok
}

// Stats returns a copy of the per-type dispatch counters.
func (c *Coordinator) Stats() map[coordination.EventType]uint64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := make(map[coordination.EventType]uint64, len(c.stats))
	for t, n := range c.stats {
		out[t] = n
	}
	return out
}
