// Package sendqueue implements the per-connection three-priority outbound
// queue described in spec.md §4.3, grounded directly on
// original_source/src/SendQueue.cpp's SendOp/SendQueue pair. Unlike the
// teacher's ZMQ-backed peer, which hands payloads straight to a blocking
// DEALER send, this core keeps an explicit queue so sends are ordered by
// priority and completed exactly once; the session core drains each
// connection's queue with blocking writes on its net.Conn.
package sendqueue

import (
	"container/list"
	"net"
	"sync"
)

// Priority selects one of the three outbound classes.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// Result is the terminal status of exactly one completed operation.
type Result int

const (
	ResultOK Result = iota
	ResultCancelled
	ResultConnectionLost
	ResultTimeout
)

// CompletionFunc is invoked exactly once when an operation finishes. The
// caller is responsible for holding whatever lock its own documentation
// requires (the Instance lock, for the session core) across this call.
type CompletionFunc func(Result)

// Op is one outbound payload plus its bookkeeping. AsyncHandle == 0 marks
// an internal send: internal sends are invisible to remove_queued and its
// handle/priority-filtered siblings.
type Op struct {
	Data        []byte
	DestAddr    net.Addr // nil for a stream (TCP) send
	AsyncHandle uint32
	Completion  CompletionFunc

	sentSoFar int
}

// Pending returns the slice of Data not yet sent.
func (o *Op) Pending() []byte {
	return o.Data[o.sentSoFar:]
}

// Advance records n additional bytes sent; returns true once the op is
// fully drained.
func (o *Op) Advance(n int) bool {
	o.sentSoFar += n
	if o.sentSoFar > len(o.Data) {
		panic("sendqueue: advanced past end of op")
	}
	return o.sentSoFar == len(o.Data)
}

// Complete invokes the op's completion callback, if any, exactly once.
func (o *Op) Complete(result Result) {
	if o.Completion != nil {
		o.Completion(result)
	}
}

// Queue holds the three priority lists plus the single in-flight ("current")
// operation. Every method takes the Queue's own mutex, so a Queue is safe
// for concurrent use; a sequence of calls is not atomic as a whole.
type Queue struct {
	mu      sync.Mutex
	low     list.List
	medium  list.List
	high    list.List
	current *Op
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

func (q *Queue) queueFor(p Priority) *list.List {
	switch p {
	case PriorityHigh:
		return &q.high
	case PriorityMedium:
		return &q.medium
	default:
		return &q.low
	}
}

// Send appends op to the tail of the given priority's queue.
func (q *Queue) Send(priority Priority, op *Op) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queueFor(priority).PushBack(op)
}

// GetPending returns the in-flight operation if there is one, or pops the
// highest non-empty priority class (HIGH, MEDIUM, LOW) and makes it
// current. Returns nil if every queue and the current slot are empty.
func (q *Queue) GetPending() *Op {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.getPendingLocked()
}

func (q *Queue) getPendingLocked() *Op {
	if q.current != nil {
		return q.current
	}

	for _, ql := range []*list.List{&q.high, &q.medium, &q.low} {
		if front := ql.Front(); front != nil {
			q.current = ql.Remove(front).(*Op)
			return q.current
		}
	}

	return nil
}

// PopPending releases the current operation. It panics if op is not the
// stored current operation, mirroring the C++ assert(op == current).
func (q *Queue) PopPending(op *Op) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != op {
		panic("sendqueue: pop_pending called with operation that isn't current")
	}
	q.current = nil
}

// HandleIsPending reports whether handle names the in-flight operation,
// which therefore cannot be cancelled mid-flight.
func (q *Queue) HandleIsPending(handle uint32) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil && q.current.AsyncHandle == handle
}

// removeMatching scans queues in the given order and removes+returns the
// first user-visible (AsyncHandle != 0) op for which pred returns true.
func (q *Queue) removeMatching(order []*list.List, pred func(*Op) bool) *Op {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ql := range order {
		for e := ql.Front(); e != nil; e = e.Next() {
			op := e.Value.(*Op)
			if op.AsyncHandle != 0 && pred(op) {
				ql.Remove(e)
				return op
			}
		}
	}
	return nil
}

// RemoveQueued removes and returns the first user-visible queued
// operation, searching HIGH, MEDIUM, LOW in that order. The in-flight
// operation is never touched.
func (q *Queue) RemoveQueued() *Op {
	return q.removeMatching([]*list.List{&q.high, &q.medium, &q.low}, func(*Op) bool { return true })
}

// RemoveQueuedByHandle removes and returns the user-visible queued
// operation carrying the given async handle, or nil.
func (q *Queue) RemoveQueuedByHandle(handle uint32) *Op {
	return q.removeMatching([]*list.List{&q.low, &q.medium, &q.high}, func(op *Op) bool {
		return op.AsyncHandle == handle
	})
}

// RemoveQueuedByPriority removes and returns the first user-visible queued
// operation in the given priority class, or nil.
func (q *Queue) RemoveQueuedByPriority(priority Priority) *Op {
	q.mu.Lock()
	ql := q.queueFor(priority)
	q.mu.Unlock()
	return q.removeMatching([]*list.List{ql}, func(*Op) bool { return true })
}

// DrainAll removes every queued (non-current) operation across all
// priorities, in HIGH, MEDIUM, LOW order, without regard to AsyncHandle.
// Used by Close/TerminateSession to abort everything outstanding.
func (q *Queue) DrainAll() []*Op {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*Op
	for _, ql := range []*list.List{&q.high, &q.medium, &q.low} {
		for e := ql.Front(); e != nil; {
			next := e.Next()
			out = append(out, ql.Remove(e).(*Op))
			e = next
		}
	}
	return out
}

// Empty reports whether every priority queue and the current slot are
// empty.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current == nil && q.high.Len() == 0 && q.medium.Len() == 0 && q.low.Len() == 0
}

// Len returns the total count of queued (non-current) operations across
// all three priorities, for GetSendQueueInfo-style reporting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.high.Len() + q.medium.Len() + q.low.Len()
}
