package event

import (
	"sync"
)

// DefaultMaxBytes caps the body bytes a queue holds before producers must wait.
const DefaultMaxBytes = 256 * 1024

// Queue carries events from a transport (and from client control calls) to one
// download's state machine. Control events are always accepted and always
// delivered before data events. Data events are accepted only while the queued
// body bytes stay under the cap; a rejected producer waits on Room and retries.
type Queue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	control   []Event
	data      []Event
	dataBytes int
	maxBytes  int
	closed    bool
	room      chan struct{}
}

func NewQueue(maxBytes int) *Queue {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	q := &Queue{
		maxBytes: maxBytes,
		room:     make(chan struct{}, 1),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues ev. It returns false when the queue is closed, or when ev is a
// data event and the byte budget is spent.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if ev.Kind.IsControl() {
		q.control = append(q.control, ev)
	} else {
		if q.dataBytes >= q.maxBytes {
			return false
		}
		q.data = append(q.data, ev)
		q.dataBytes += ev.size()
	}
	q.cond.Signal()
	return true
}

// Pop returns the oldest control event, else the oldest data event. It never blocks.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.control) > 0 {
		ev := q.control[0]
		q.control[0] = Event{}
		q.control = q.control[1:]
		return ev, true
	}
	if len(q.data) > 0 {
		ev := q.data[0]
		q.data[0] = Event{}
		q.data = q.data[1:]
		q.dataBytes -= ev.size()
		if q.dataBytes < q.maxBytes {
			q.notifyRoom()
		}
		return ev, true
	}
	return Event{}, false
}

// WaitForData blocks until the queue holds an event or is closed. Callers must
// still handle an empty Pop afterwards.
func (q *Queue) WaitForData() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.control) == 0 && len(q.data) == 0 && !q.closed {
		q.cond.Wait()
	}
}

// Signal wakes one goroutine blocked in WaitForData.
func (q *Queue) Signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Room fires after a Pop leaves the byte budget under the cap. Producers select
// on it after a rejected Push.
func (q *Queue) Room() <-chan struct{} {
	return q.room
}

func (q *Queue) notifyRoom() {
	select {
	case q.room <- struct{}{}:
	default:
	}
}

func (q *Queue) HasControl() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.control) > 0
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.control) + len(q.data)
}

// Bytes is the body byte count currently queued.
func (q *Queue) Bytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dataBytes
}

// Drain drops every queued event and returns how many there were.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.control) + len(q.data)
	q.control = nil
	q.data = nil
	q.dataBytes = 0
	q.notifyRoom()
	return n
}

// Close rejects further pushes and releases every waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.notifyRoom()
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
