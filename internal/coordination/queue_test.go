package coordination

import (
	"sync"
	"testing"
	"time"
)

func makeEvent(priority EventPriority, payload map[string]any) Event {
	return NewEvent(EventTypeStatusUpdate, "tester", nil, payload, priority, time.Minute)
}

func TestQueueStrictPriorityOrder(t *testing.T) {
	q := NewPriorityQueue()
	q.Put(makeEvent(PriorityLow, map[string]any{"n": 1}))
	q.Put(makeEvent(PriorityCritical, map[string]any{"n": 2}))
	q.Put(makeEvent(PriorityNormal, map[string]any{"n": 3}))
	q.Put(makeEvent(PriorityUrgent, map[string]any{"n": 4}))

	want := []EventPriority{PriorityCritical, PriorityUrgent, PriorityNormal, PriorityLow}
	for i, expected := range want {
		ev, ok := q.Get(10 * time.Millisecond)
		if !ok {
			t.Fatalf("get %d: queue unexpectedly empty", i)
		}
		if ev.Priority != expected {
			t.Fatalf("get %d: priority=%s want=%s", i, ev.Priority, expected)
		}
	}
	if _, ok := q.Get(10 * time.Millisecond); ok {
		t.Fatalf("expected empty queue after draining")
	}
}

func TestQueueFIFOWithinLane(t *testing.T) {
	q := NewPriorityQueue()
	for i := 0; i < 5; i++ {
		q.Put(makeEvent(PriorityHigh, map[string]any{"seq": i}))
	}
	for i := 0; i < 5; i++ {
		ev, ok := q.Get(10 * time.Millisecond)
		if !ok {
			t.Fatalf("get %d: queue unexpectedly empty", i)
		}
		if got := ev.Payload["seq"].(int); got != i {
			t.Fatalf("get %d: seq=%d want=%d", i, got, i)
		}
	}
}

func TestQueueGetTimeoutOnEmpty(t *testing.T) {
	q := NewPriorityQueue()
	start := time.Now()
	if _, ok := q.Get(30 * time.Millisecond); ok {
		t.Fatalf("expected no event from empty queue")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("get blocked too long on empty queue: %s", elapsed)
	}
}

func TestQueueGetWakesOnPut(t *testing.T) {
	q := NewPriorityQueue()
	done := make(chan Event, 1)
	go func() {
		ev, ok := q.Get(2 * time.Second)
		if ok {
			done <- ev
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put(makeEvent(PriorityNormal, map[string]any{"n": 1}))

	select {
	case ev, ok := <-done:
		if !ok {
			t.Fatalf("waiting get returned empty")
		}
		if ev.Priority != PriorityNormal {
			t.Fatalf("priority=%s want=%s", ev.Priority, PriorityNormal)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for queued event")
	}
}

func TestQueueConcurrentPutGet(t *testing.T) {
	q := NewPriorityQueue()
	const producers = 4
	const perProducer = 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Put(makeEvent(EventPriority(i%laneCount), nil))
			}
		}()
	}
	wg.Wait()

	seen := 0
	for {
		if _, ok := q.Get(10 * time.Millisecond); !ok {
			break
		}
		seen++
	}
	if seen != producers*perProducer {
		t.Fatalf("drained %d events, want %d", seen, producers*perProducer)
	}
	if q.Size() != 0 {
		t.Fatalf("size=%d after drain, want 0", q.Size())
	}
}

func TestQueueSize(t *testing.T) {
	q := NewPriorityQueue()
	if q.Size() != 0 {
		t.Fatalf("size=%d for fresh queue, want 0", q.Size())
	}
	q.Put(makeEvent(PriorityLow, nil))
	q.Put(makeEvent(PriorityCritical, nil))
	if q.Size() != 2 {
		t.Fatalf("size=%d, want 2", q.Size())
	}
}
