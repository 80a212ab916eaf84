package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"swarmcore/internal/coordination"
)

func newTestRelay(t *testing.T) *RedisRelay {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return NewRedisRelay(&redis.Options{Addr: s.Addr()}, nil)
}

func TestPublishReachesAgentTopic(t *testing.T) {
	relay := newTestRelay(t)
	defer relay.Close()
	ctx := context.Background()

	ch, err := relay.Subscribe(ctx, AgentTopic("agent-a"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := coordination.NewEvent(
		coordination.EventTypeCoordinationRequest,
		"agent-b",
		[]string{"agent-a"},
		map[string]any{"request_type": "handoff"},
		coordination.PriorityHigh,
		time.Minute,
	)
	if err := relay.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != ev.ID {
			t.Fatalf("relayed id=%s want=%s", got.ID, ev.ID)
		}
		if got.Payload["request_type"] != "handoff" {
			t.Fatalf("relayed payload=%v", got.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for relayed event")
	}
}

func TestPublishReachesBroadcastTopic(t *testing.T) {
	relay := newTestRelay(t)
	defer relay.Close()
	ctx := context.Background()

	ch, err := relay.Subscribe(ctx, BroadcastTopic)
	if err != nil {
		t.Fatalf("subscribe broadcast: %v", err)
	}

	ev := coordination.NewEvent(coordination.EventTypeStatusUpdate, "agent-a", nil, nil, coordination.PriorityNormal, time.Minute)
	if err := relay.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.ID != ev.ID {
			t.Fatalf("relayed id=%s want=%s", got.ID, ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast event")
	}
}

func TestHandlerRelaysDispatchedEvents(t *testing.T) {
	relay := newTestRelay(t)
	defer relay.Close()
	ctx := context.Background()

	ch, err := relay.Subscribe(ctx, AgentTopic("agent-a"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	core := coordination.New(coordination.Config{GetTimeout: 10 * time.Millisecond}, nil)
	core.RegisterHandler(coordination.EventTypeTaskAssignment, relay.Handler(ctx))

	id := core.Emit(coordination.EventTypeTaskAssignment, "planner", []string{"agent-a"}, nil, coordination.PriorityNormal)
	core.ProcessEvents(5)

	select {
	case got := <-ch:
		if got.ID != id {
			t.Fatalf("relayed id=%s want=%s", got.ID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for dispatched event over relay")
	}
}

func TestUnsubscribeUnknownTopic(t *testing.T) {
	relay := newTestRelay(t)
	defer relay.Close()
	if err := relay.Unsubscribe("never-subscribed"); err != nil {
		t.Fatalf("unsubscribe unknown topic: %v", err)
	}
}
