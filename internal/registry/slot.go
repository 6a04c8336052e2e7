package registry

import (
	"sync"
	"sync/atomic"

	"github.com/tanq16/danzo-agent/internal/event"
)

// State is the coarse lifecycle of a download as seen from outside its loop.
type State int

const (
	StateIdle State = iota
	StateNew
	StateFinished
	StatePaused
	StateCanceled
	StateAborted
)

var stateNames = [...]string{
	StateIdle:     "idle",
	StateNew:      "new",
	StateFinished: "finished",
	StatePaused:   "paused",
	StateCanceled: "canceled",
	StateAborted:  "aborted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Request holds the caller's inputs for one download. The registry stores its
// own copy so nothing the caller owns is referenced after Allocate returns.
type Request struct {
	URL         string
	Headers     []string
	InstallPath string
	FileName    string
	ETag        string
	TempPath    string
}

func (r Request) clone() Request {
	c := r
	if r.Headers != nil {
		c.Headers = append([]string(nil), r.Headers...)
	}
	return c
}

// Controller is the part of a download's state machine that client calls reach.
type Controller interface {
	Cancel() error
	Suspend() error
	Resume() error
	Abort()
}

// Slot is one in-flight download. Every allocation gets a fresh Slot, so a
// stale pointer never aliases a later download.
type Slot struct {
	index  int
	handle int

	stateMu    sync.Mutex
	state      State
	request    Request
	userData   any
	controller Controller

	queue   *event.Queue
	abandon atomic.Bool
}

func (s *Slot) Handle() int { return s.handle }
func (s *Slot) Index() int  { return s.index }

func (s *Slot) Queue() *event.Queue { return s.queue }

// Request returns a copy of the slot's stored request.
func (s *Slot) Request() Request {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.request.clone()
}

// UserData is handed back to the client verbatim and never inspected.
func (s *Slot) UserData() any {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.userData
}

func (s *Slot) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Slot) SetState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func (s *Slot) Controller() Controller {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.controller
}

func (s *Slot) SetController(c Controller) {
	s.stateMu.Lock()
	s.controller = c
	s.stateMu.Unlock()
}

// Abandon asks a worker that has not started its loop yet to exit without running it.
func (s *Slot) Abandon()         { s.abandon.Store(true) }
func (s *Slot) Abandoned() bool { return s.abandon.Load() }

func newSlot(index, handle int, req Request, userData any, queueBytes int) *Slot {
	return &Slot{
		index:    index,
		handle:   handle,
		state:    StateNew,
		request:  req.clone(),
		userData: userData,
		queue:    event.NewQueue(queueBytes),
	}
}

// clear releases everything the slot owns and returns how many events were
// still queued.
func (s *Slot) clear() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	dropped := 0
	if s.queue != nil {
		s.queue.Close()
		dropped = s.queue.Drain()
	}
	s.state = StateIdle
	s.request = Request{}
	s.userData = nil
	s.controller = nil
	return dropped
}
