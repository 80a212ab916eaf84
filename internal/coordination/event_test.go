package coordination

import (
	"testing"
	"time"
)

func TestNewEventFields(t *testing.T) {
	before := time.Now().UTC()
	ev := NewEvent(EventTypeTaskAssignment, "planner", []string{"coder"}, map[string]any{"k": "v"}, PriorityHigh, time.Minute)
	after := time.Now().UTC()

	if ev.ID == "" {
		t.Fatalf("event id is empty")
	}
	if ev.Type != EventTypeTaskAssignment || ev.Source != "planner" || ev.Priority != PriorityHigh {
		t.Fatalf("unexpected event fields: %+v", ev)
	}
	if ev.Timestamp.Before(before) || ev.Timestamp.After(after) {
		t.Fatalf("timestamp %s outside [%s, %s]", ev.Timestamp, before, after)
	}
	if ev.TTL != time.Minute {
		t.Fatalf("ttl=%s want 1m", ev.TTL)
	}
}

func TestEventExpired(t *testing.T) {
	ev := NewEvent(EventTypeStatusUpdate, "a", nil, nil, PriorityNormal, time.Minute)
	if ev.Expired(ev.Timestamp.Add(30 * time.Second)) {
		t.Fatalf("event expired before ttl")
	}
	if !ev.Expired(ev.Timestamp.Add(2 * time.Minute)) {
		t.Fatalf("event not expired after ttl")
	}

	zero := NewEvent(EventTypeStatusUpdate, "a", nil, nil, PriorityNormal, 0)
	if !zero.Expired(zero.Timestamp) {
		t.Fatalf("zero-ttl event should be expired immediately")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want EventPriority
	}{
		{name: "low", in: "low", want: PriorityLow},
		{name: "empty defaults to normal", in: "", want: PriorityNormal},
		{name: "critical", in: "critical", want: PriorityCritical},
		{name: "unknown defaults to normal", in: "extreme", want: PriorityNormal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParsePriority(tc.in); got != tc.want {
				t.Fatalf("ParsePriority(%q)=%s want=%s", tc.in, got, tc.want)
			}
		})
	}
}
