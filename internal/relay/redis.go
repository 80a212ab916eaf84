// Package relay fans dispatched coordination events out to other
// processes over Redis pub/sub. One topic per target agent plus a shared
// broadcast topic; consumers subscribe with Subscribe.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"swarmcore/internal/coordination"
)

const (
	// BroadcastTopic carries every relayed event regardless of target.
	BroadcastTopic = "swarm.broadcast"

	agentTopicPrefix = "swarm.agent."
)

// AgentTopic returns the pub/sub topic for one agent's events.
func AgentTopic(agentID string) string {
	return agentTopicPrefix + agentID
}

// RedisRelay publishes dispatched events to Redis with automatic
// reconnection when the connection drops.
type RedisRelay struct {
	mu            sync.Mutex
	client        *redis.Client
	options       *redis.Options
	subscriptions map[string]*redis.PubSub
	logger        *log.Logger
}

func NewRedisRelay(opts *redis.Options, logger *log.Logger) *RedisRelay {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisRelay{
		client:        redis.NewClient(opts),
		options:       opts,
		subscriptions: make(map[string]*redis.PubSub),
		logger:        logger,
	}
}

// ensureConnection pings the server and reconnects if necessary.
func (r *RedisRelay) ensureConnection(ctx context.Context) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logger.Printf("relay reconnecting to redis: %v", err)
		r.client = redis.NewClient(r.options)
	}
}

// Publish sends the event to the broadcast topic and to each target
// agent's topic.
func (r *RedisRelay) Publish(ctx context.Context, ev coordination.Event) error {
	r.mu.Lock()
	r.ensureConnection(ctx)
	client := r.client
	r.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := client.Publish(ctx, BroadcastTopic, data).Err(); err != nil {
		return err
	}
	for _, agentID := range ev.Targets {
		if err := client.Publish(ctx, AgentTopic(agentID), data).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe listens for relayed events on a topic.
func (r *RedisRelay) Subscribe(ctx context.Context, topic string) (<-chan coordination.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureConnection(ctx)
	ps := r.client.Subscribe(ctx, topic)
	r.subscriptions[topic] = ps

	ch := make(chan coordination.Event)
	go func() {
		defer close(ch)
		for {
			msg, err := ps.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Printf("relay receive error: %v", err)
				time.Sleep(time.Second)
				continue
			}
			var ev coordination.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
				ch <- ev
			}
		}
	}()
	return ch, nil
}

// Unsubscribe stops listening on a topic.
func (r *RedisRelay) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.subscriptions[topic]
	if !ok {
		return nil
	}
	delete(r.subscriptions, topic)
	return ps.Close()
}

// Close terminates all subscriptions and closes the client.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ps := range r.subscriptions {
		_ = ps.Close()
	}
	r.subscriptions = make(map[string]*redis.PubSub)
	return r.client.Close()
}

// Handler adapts the relay into a dispatch handler bound to ctx.
func (r *RedisRelay) Handler(ctx context.Context) coordination.Handler {
	return func(ev coordination.Event) error {
		return r.Publish(ctx, ev)
	}
}
