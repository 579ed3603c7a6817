// Package event implements the deterministic min-heap event scheduler
// devices arm themselves against: a handle can be re-armed relative or
// absolute, callbacks fire in non-decreasing deadline order, and two events
// at the same deadline fire in the order they were armed.
package event

import "container/heap"

// Callback receives the private argument the event was armed with.
type Callback func(arg int)

// Handle identifies an armed or disarmed event slot. Handles are stable
// across re-arms; Scheduler.New allocates them and never reuses them.
// Owners are never released, and neither Arm nor Tick checks whether a
// handle's owner is still alive.
type Handle int

type slot struct {
	owner      int64 // opaque owner id; 0 means free
	generation uint32
	cb         Callback
	arg        int
	armed      bool
	deadline   int64
	seq        uint64 // arming order, breaks deadline ties FIFO
	heapIndex  int
}

// Scheduler is a single min-heap of armed events keyed by deadline.
// It is not safe for concurrent use from multiple goroutines; the core
// runs single-threaded cooperative scheduling (spec §5).
type Scheduler struct {
	now    func() int64
	slots  []*slot
	heap   eventHeap
	seq    uint64
	nextID int64
}

// New creates a Scheduler that reads virtual time via now.
func New(now func() int64) *Scheduler {
	return &Scheduler{now: now}
}

// NewOwner allocates a stable owner id, e.g. one per device, which is
// recorded with each handle passed to New; no dangling-owner detection is
// made from it.
func (s *Scheduler) NewOwner() int64 {
	s.nextID++
	return s.nextID
}

// New allocates a disarmed event handle owned by owner.
func (s *Scheduler) New(owner int64, cb Callback) Handle {
	sl := &slot{owner: owner, cb: cb, heapIndex: -1}
	s.slots = append(s.slots, sl)
	return Handle(len(s.slots) - 1)
}

func (s *Scheduler) get(h Handle) *slot {
	if int(h) < 0 || int(h) >= len(s.slots) {
		panic("event: invalid handle")
	}
	return s.slots[h]
}

// Arm schedules h to fire at now()+delta with argument arg, replacing any
// previous arming of the same handle. Negative delta is clamped to 0.
func (s *Scheduler) Arm(h Handle, delta int64, arg int) {
	if delta < 0 {
		delta = 0
	}
	sl := s.get(h)
	if sl.armed {
		heap.Remove(&s.heap, sl.heapIndex)
	}
	sl.generation++
	sl.arg = arg
	sl.deadline = s.now() + delta
	sl.armed = true
	sl.seq = s.seq
	s.seq++
	heap.Push(&s.heap, sl)
}

// ArmAbsolute schedules h to fire at the absolute virtual time deadline.
func (s *Scheduler) ArmAbsolute(h Handle, deadline int64, arg int) {
	now := s.now()
	if deadline < now {
		deadline = now
	}
	s.Arm(h, deadline-now, arg)
}

// Disarm cancels h if armed. Idempotent.
func (s *Scheduler) Disarm(h Handle) {
	sl := s.get(h)
	if !sl.armed {
		return
	}
	heap.Remove(&s.heap, sl.heapIndex)
	sl.armed = false
	sl.generation++
}

// Armed reports whether h currently has a pending deadline.
func (s *Scheduler) Armed(h Handle) bool {
	return s.get(h).armed
}

// Tick fires every armed event whose deadline is <= now(), in deadline
// order with FIFO tiebreak, invoking its callback with its argument.
// Callbacks may re-arm themselves or others; Tick continues to drain the
// heap until nothing at or before now remains.
func (s *Scheduler) Tick() {
	now := s.now()
	for s.heap.Len() > 0 {
		top := s.heap[0]
		if top.deadline > now {
			break
		}
		gen := top.generation
		heap.Pop(&s.heap)
		top.armed = false
		if top.generation != gen {
			// disarmed/re-armed during this same pop; nothing to do
			continue
		}
		top.cb(top.arg)
	}
}

// eventHeap implements container/heap.Interface over *slot, ordered by
// deadline then arming sequence.
type eventHeap []*slot

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *eventHeap) Push(x any) {
	sl := x.(*slot)
	sl.heapIndex = len(*h)
	*h = append(*h, sl)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	sl := old[n-1]
	old[n-1] = nil
	sl.heapIndex = -1
	*h = old[:n-1]
	return sl
}
