// Package iopool implements the bounded I/O worker pool of spec.md §4.1:
// a pool of goroutines, each multiplexing a capped block of readiness
// sources, dispatching a per-handle callback when one fires. Handles may
// be added or removed at any time without restarting the pool.
//
// The teacher (zeromq-gyre) gets this for free from a single
// zmq.Poller.Poll(-1) call in node.go's inboxHandler, because ZeroMQ owns
// exactly one socket per node. This core multiplexes an open-ended number
// of raw TCP connections plus the shared UDP socket, so it needs the real
// bounded pool described by
// original_source/src/HandleHandlingPool.cpp/.hpp: threads_per_block
// workers serve up to handles_per_block handles each, and adding/removing
// a handle briefly pauses every worker in the affected block via a
// pending-writer protocol. Go has no portable WaitForMultipleObjects, so
// each Handle here exposes a channel that is sent to (or closed) on
// readiness, and reflect.Select stands in for the OS wait call.
package iopool

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MaxHandlesPerBlock mirrors the platform wait-object limit the original
// implementation is bound by (WAIT_OBJECT_0..WAIT_OBJECT_0+63, minus one
// slot reserved for the block's own wake channel).
const MaxHandlesPerBlock = 63

// Handle is one readiness source. Ready fires (receives a value) whenever
// the underlying resource becomes readable/writable/otherwise actionable.
// A handle may be level-triggered (Ready keeps firing while the condition
// holds); Callback may then be invoked concurrently by multiple workers,
// so it must not assume exclusive access to shared state without its own
// locking.
type Handle struct {
	ID       interface{}
	Ready    <-chan struct{}
	Callback func()
}

// ErrClosed is returned by AddHandle once the Pool has been destroyed.
var ErrClosed = errors.New("iopool: pool is closed")

// Pool is a bounded pool of worker goroutines multiplexing blocks of
// Handles. The zero value is not usable; use New.
type Pool struct {
	threadsPerBlock int
	handlesPerBlock int

	mu       sync.Mutex
	blocks   []*block
	closed   bool
	group    *errgroup.Group
	groupCtx chan struct{}
}

type block struct {
	mu      sync.RWMutex
	handles []Handle
	wake    chan struct{} // closed and replaced whenever handles changes

	pendingWriter bool
	writerCond    *sync.Cond
	closedFlag    bool
}

func newBlock() *block {
	b := &block{wake: make(chan struct{})}
	b.writerCond = sync.NewCond(&b.mu)
	return b
}

// New creates a pool that spawns threadsPerBlock worker goroutines for
// every block of up to handlesPerBlock handles. handlesPerBlock is capped
// to MaxHandlesPerBlock.
func New(threadsPerBlock, handlesPerBlock int) *Pool {
	if handlesPerBlock > MaxHandlesPerBlock {
		handlesPerBlock = MaxHandlesPerBlock
	}
	if handlesPerBlock < 1 {
		handlesPerBlock = 1
	}
	if threadsPerBlock < 1 {
		threadsPerBlock = 1
	}

	p := &Pool{
		threadsPerBlock: threadsPerBlock,
		handlesPerBlock: handlesPerBlock,
		group:           &errgroup.Group{},
	}
	return p
}

// AddHandle installs h into the first block with room, spawning a new
// block (and its worker goroutines) if every existing block is full.
// Installation is atomic: on error neither the handle nor any newly
// spawned workers are left behind.
func (p *Pool) AddHandle(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	for _, b := range p.blocks {
		if b.tryAdd(h, p.handlesPerBlock) {
			return nil
		}
	}

	nb := newBlock()
	if !nb.tryAdd(h, p.handlesPerBlock) {
		// Cannot happen: a fresh block is always empty.
		return errors.New("iopool: internal error adding to fresh block")
	}
	p.blocks = append(p.blocks, nb)

	for i := 0; i < p.threadsPerBlock; i++ {
		p.group.Go(nb.run)
	}

	return nil
}

// RemoveHandle removes the handle identified by id from whichever block
// holds it. It is a no-op if no such handle exists.
func (p *Pool) RemoveHandle(id interface{}) {
	p.mu.Lock()
	blocks := append([]*block(nil), p.blocks...)
	p.mu.Unlock()

	for _, b := range blocks {
		b.remove(id)
	}
}

// Close signals every worker to exit and waits for them all to return.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	blocks := append([]*block(nil), p.blocks...)
	p.mu.Unlock()

	for _, b := range blocks {
		b.shutdown()
	}

	return p.group.Wait()
}

// tryAdd installs h if the block has room, publishing the pending-writer
// protocol described in spec.md §4.1 so waiting workers release their
// read side before the slice is mutated.
func (b *block) tryAdd(h Handle, capacity int) bool {
	b.beginWrite()
	defer b.endWrite()

	if len(b.handles) >= capacity {
		return false
	}
	b.handles = append(b.handles, h)
	return true
}

func (b *block) remove(id interface{}) {
	b.beginWrite()
	defer b.endWrite()

	for i, h := range b.handles {
		if h.ID == id {
			b.handles = append(b.handles[:i], b.handles[i+1:]...)
			return
		}
	}
}

func (b *block) shutdown() {
	b.beginWrite()
	b.handles = nil
	b.closedFlag = true
	b.endWrite()
}

func (b *block) beginWrite() {
	b.mu.Lock()
	b.pendingWriter = true
	close(b.wake)
	// Workers observe the closed wake channel, drop their read-side
	// snapshot and block on writerCond until pendingWriter clears.
	b.mu.Unlock()
	b.mu.Lock()
}

func (b *block) endWrite() {
	b.wake = make(chan struct{})
	b.pendingWriter = false
	b.mu.Unlock()
	b.writerCond.Broadcast()
}

// run is the worker goroutine body: snapshot the handle set and wake
// channel, wait for any of them (or the wake channel) via reflect.Select,
// and invoke the corresponding callback outside of any lock.
//
// A panicking callback is this worker's equivalent of spec.md §4.1's
// "wait system call returning an error": it is fatal only for the
// observing worker, which exits and reports the failure through the
// pool's errgroup, while every other worker continues unaffected.
func (b *block) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("iopool: worker callback panicked: %v", r)
		}
	}()

	for {
		b.mu.RLock()
		if b.closedFlag {
			b.mu.RUnlock()
			return nil
		}
		handles := append([]Handle(nil), b.handles...)
		wake := b.wake
		b.mu.RUnlock()

		cb, ok := waitAny(handles, wake)
		if !ok {
			// wake fired: handle set changed (or pool is shutting down).
			// Give any pending writer a chance to proceed, then loop.
			b.mu.Lock()
			for b.pendingWriter {
				b.writerCond.Wait()
			}
			closed := b.closedFlag
			b.mu.Unlock()
			if closed {
				return nil
			}
			continue
		}

		cb()
	}
}

// waitAny blocks until one of handles' Ready channels fires or wake
// fires. Returns (callback, true) on a handle readiness, or (nil, false)
// if wake fired first.
func waitAny(handles []Handle, wake <-chan struct{}) (func(), bool) {
	cases := make([]reflect.SelectCase, 0, len(handles)+1)
	for _, h := range handles {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(h.Ready),
		})
	}
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(wake),
	})

	chosen, _, _ := reflect.Select(cases)
	if chosen == len(handles) {
		return nil, false
	}
	return handles[chosen].Callback, true
}
