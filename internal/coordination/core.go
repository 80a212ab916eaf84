package coordination

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Handler is invoked with every dispatched event of its registered type.
// A returned error is logged and suppressed; it never aborts the batch.
type Handler func(Event) error

type Config struct {
	// DefaultTTL is applied by Emit when the caller does not choose one.
	DefaultTTL time.Duration
	// GetTimeout bounds how long a single queue poll may block when the
	// queue is empty, which in turn bounds ProcessEvents latency.
	GetTimeout time.Duration
	// Retry is applied around each handler invocation.
	Retry RetryPolicy
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.GetTimeout <= 0 {
		c.GetTimeout = 50 * time.Millisecond
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry.MaxAttempts = 1
	}
	return c
}

// Core owns the priority queue, the active-agent set and the handler
// registry. It is safe for concurrent use; no lock is held while a
// handler runs, so handlers may call back into the Core.
type Core struct {
	cfg    Config
	logger *log.Logger
	queue  *PriorityQueue

	agentMu sync.Mutex
	agents  map[string]struct{}

	handlerMu sync.RWMutex
	handlers  map[EventType][]Handler

	dropMu  sync.Mutex
	dropped uint64
}

func New(cfg Config, logger *log.Logger) *Core {
	if logger == nil {
		logger = log.Default()
	}
	return &Core{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		queue:    NewPriorityQueue(),
		agents:   make(map[string]struct{}),
		handlers: make(map[EventType][]Handler),
	}
}

// RegisterAgent adds the agent to the active set and emits an agent_join
// event targeted at the agent itself, so join watchers observe it through
// the normal pipeline. Returns false if the agent was already registered.
func (c *Core) RegisterAgent(agentID string) bool {
	c.agentMu.Lock()
	defer c.agentMu.Unlock()
	if _, ok := c.agents[agentID]; ok {
		return false
	}
	c.agents[agentID] = struct{}{}
	c.enqueue(NewEvent(
		EventTypeAgentJoin,
		agentID,
		[]string{agentID},
		map[string]any{"agent_id": agentID},
		PriorityNormal,
		c.cfg.DefaultTTL,
	))
	return true
}

// UnregisterAgent mirrors RegisterAgent, emitting agent_leave on success.
// Unregistering an unknown agent returns false.
func (c *Core) UnregisterAgent(agentID string) bool {
	c.agentMu.Lock()
	defer c.agentMu.Unlock()
	if _, ok := c.agents[agentID]; !ok {
		return false
	}
	delete(c.agents, agentID)
	c.enqueue(NewEvent(
		EventTypeAgentLeave,
		agentID,
		[]string{agentID},
		map[string]any{"agent_id": agentID},
		PriorityNormal,
		c.cfg.DefaultTTL,
	))
	return true
}

// Emit constructs an event with the configured default ttl, enqueues it
// and returns its id without waiting for delivery.
func (c *Core) Emit(eventType EventType, source string, targets []string, payload map[string]any, priority EventPriority) string {
	return c.EmitWithTTL(eventType, source, targets, payload, priority, c.cfg.DefaultTTL)
}

// EmitWithTTL is Emit with an explicit time-to-live. A ttl <= 0 produces
// an event that expires before it can be dispatched.
func (c *Core) EmitWithTTL(eventType EventType, source string, targets []string, payload map[string]any, priority EventPriority, ttl time.Duration) string {
	ev := NewEvent(eventType, source, targets, payload, priority, ttl)
	c.enqueue(ev)
	return ev.ID
}

func (c *Core) enqueue(ev Event) {
	c.queue.Put(ev)
}

// RegisterHandler appends the handler to the type's invocation list.
// Handlers run in registration order and duplicates are kept.
func (c *Core) RegisterHandler(eventType EventType, handler Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// ProcessEvents pops up to max events from the queue and dispatches each
// to every handler registered for its type. Expired events are dropped
// without dispatch and counted by DroppedEvents. The return value counts
// only events that were actually dispatched.
func (c *Core) ProcessEvents(max int) int {
	processed := 0
	for i := 0; i < max; i++ {
		ev, ok := c.queue.Get(c.cfg.GetTimeout)
		if !ok {
			break
		}
		if ev.Expired(time.Now().UTC()) {
			c.dropMu.Lock()
			c.dropped++
			c.dropMu.Unlock()
			continue
		}
		c.dispatch(ev)
		processed++
	}
	return processed
}

func (c *Core) dispatch(ev Event) {
	c.handlerMu.RLock()
	handlers := make([]Handler, len(c.handlers[ev.Type]))
	copy(handlers, c.handlers[ev.Type])
	c.handlerMu.RUnlock()

	for _, handler := range handlers {
		if err := c.invoke(handler, ev); err != nil {
			c.logger.Printf("handler failed event=%s type=%s: %v", ev.ID, ev.Type, err)
		}
	}
}

// invoke runs one handler under the retry policy, converting a panic into
// an error so a misbehaving handler cannot take down the batch.
func (c *Core) invoke(handler Handler, ev Event) error {
	return c.cfg.Retry.run(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return handler(ev)
	})
}

// ActiveAgents returns a sorted snapshot of the registry, not a live view.
func (c *Core) ActiveAgents() []string {
	c.agentMu.Lock()
	defer c.agentMu.Unlock()
	out := make([]string, 0, len(c.agents))
	for id := range c.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsRegistered reports whether the agent is currently in the active set.
func (c *Core) IsRegistered(agentID string) bool {
	c.agentMu.Lock()
	defer c.agentMu.Unlock()
	_, ok := c.agents[agentID]
	return ok
}

// QueueSize reports the advisory number of pending events.
func (c *Core) QueueSize() int {
	return c.queue.Size()
}

// DroppedEvents reports how many events expired before dispatch.
func (c *Core) DroppedEvents() uint64 {
	c.dropMu.Lock()
	defer c.dropMu.Unlock()
	return c.dropped
}
