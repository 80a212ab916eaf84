package coordination

import (
	"sync"
	"time"
)

const laneCount = int(PriorityCritical) + 1

// PriorityQueue holds pending events in one lane per priority level and
// drains strictly higher-priority lanes first. Within a lane insertion
// order is preserved. The queue is unbounded: callers that emit faster
// than they process will grow it without back-pressure.
type PriorityQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	lanes [laneCount][]Event
}

func NewPriorityQueue() *PriorityQueue {
	q := &PriorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put inserts the event into the lane matching its priority. Events with an
// out-of-range priority land in the low lane rather than being lost.
func (q *PriorityQueue) Put(ev Event) {
	lane := ev.Priority
	if !lane.valid() {
		lane = PriorityLow
	}
	q.mu.Lock()
	q.lanes[lane] = append(q.lanes[lane], ev)
	q.mu.Unlock()
	q.cond.Signal()
}

// Get removes and returns the highest-priority pending event. When the
// queue is empty it waits up to timeout for one to arrive; the second
// return is false if none did. An empty queue is not an error.
func (q *PriorityQueue) Get(timeout time.Duration) (Event, bool) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for lane := laneCount - 1; lane >= 0; lane-- {
			if len(q.lanes[lane]) == 0 {
				continue
			}
			ev := q.lanes[lane][0]
			q.lanes[lane] = q.lanes[lane][1:]
			return ev, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, false
		}
		q.waitWithTimeout(remaining)
	}
}

// waitWithTimeout blocks on the condition variable, waking after at most d.
// Caller must hold q.mu.
func (q *PriorityQueue) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		q.cond.Broadcast()
	})
	defer timer.Stop()
	q.cond.Wait()
}

// Size returns the sum of all lane sizes. Advisory only: it may be stale
// the moment it is read under concurrent access.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for lane := range q.lanes {
		total += len(q.lanes[lane])
	}
	return total
}
