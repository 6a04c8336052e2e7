package registry

import (
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tanq16/danzo-agent/dlerr"
	"github.com/tanq16/danzo-agent/internal/utils"
)

const (
	DefaultCapacity   = 8
	DefaultHandleSpan = 1000
)

type Option func(*Registry)

// WithHandleSpan bounds handles to [1, span]. Spans below the capacity are raised to it.
func WithHandleSpan(span int) Option {
	return func(r *Registry) { r.handleSpan = span }
}

// WithQueueBytes sets the byte budget of every slot's event queue.
func WithQueueBytes(n int) Option {
	return func(r *Registry) { r.queueBytes = n }
}

// Registry is a fixed pool of download slots addressed by public handles.
// Its mutex covers allocation bookkeeping only; slot contents have their own lock.
type Registry struct {
	mu         sync.Mutex
	inUse      []bool
	byHandle   map[int]*Slot
	nextHandle int
	handleSpan int
	queueBytes int
	log        zerolog.Logger
}

func New(capacity int, opts ...Option) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{
		inUse:      make([]bool, capacity),
		byHandle:   make(map[int]*Slot, capacity),
		handleSpan: DefaultHandleSpan,
		log:        utils.GetLogger("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.handleSpan < capacity {
		r.handleSpan = capacity
	}
	r.nextHandle = rand.IntN(r.handleSpan) + 1
	return r
}

func (r *Registry) Capacity() int { return len(r.inUse) }

// Allocate claims a free slot for req and gives it a handle no live slot uses.
func (r *Registry) Allocate(req Request, userData any) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	index := slices.Index(r.inUse, false)
	if index < 0 {
		return nil, dlerr.New(dlerr.AlreadyMaxDownload, "allocate")
	}
	handle := r.takeHandle()
	slot := newSlot(index, handle, req, userData, r.queueBytes)
	r.inUse[index] = true
	r.byHandle[handle] = slot
	r.log.Debug().Int("handle", handle).Int("slot", index).Msg("Slot allocated")
	return slot, nil
}

// takeHandle advances the rotating counter past live handles. Called with mu
// held and at least one slot free, so a free handle always exists.
func (r *Registry) takeHandle() int {
	for {
		h := r.nextHandle
		r.nextHandle++
		if r.nextHandle > r.handleSpan {
			r.nextHandle = 1
		}
		if _, live := r.byHandle[h]; !live {
			return h
		}
	}
}

func (r *Registry) Lookup(handle int) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.byHandle[handle]
	if !ok {
		return nil, dlerr.Newf(dlerr.InvalidHandle, "lookup", "handle %d", handle)
	}
	return slot, nil
}

// Destroy closes and drains the slot's queue, drops what it owns and returns
// its index to the pool. Destroying a slot twice is a no-op, even after the
// index was handed to a new download.
func (r *Registry) Destroy(slot *Slot) {
	r.mu.Lock()
	handle := slot.handle
	current, ok := r.byHandle[handle]
	if !ok || current != slot {
		r.mu.Unlock()
		return
	}
	delete(r.byHandle, handle)
	r.mu.Unlock()

	dropped := slot.clear()

	r.mu.Lock()
	r.inUse[slot.index] = false
	r.mu.Unlock()
	r.log.Debug().Int("handle", handle).Int("dropped", dropped).Msg("Slot destroyed")
}

// Live returns the slots currently in use ordered by handle.
func (r *Registry) Live() []*Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := make([]*Slot, 0, len(r.byHandle))
	for _, slot := range r.byHandle {
		live = append(live, slot)
	}
	slices.SortFunc(live, func(a, b *Slot) int { return a.handle - b.handle })
	return live
}

// Teardown destroys every live slot.
func (r *Registry) Teardown() {
	for _, slot := range r.Live() {
		r.Destroy(slot)
	}
}
