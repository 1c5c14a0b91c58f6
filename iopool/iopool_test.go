package iopool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddHandleFiresCallback(t *testing.T) {
	p := New(2, 4)
	defer p.Close()

	ready := make(chan struct{}, 1)
	var fired int32
	var wg sync.WaitGroup
	wg.Add(1)

	err := p.AddHandle(Handle{
		ID:    "conn-1",
		Ready: ready,
		Callback: func() {
			if atomic.CompareAndSwapInt32(&fired, 0, 1) {
				wg.Done()
			}
		},
	})
	if err != nil {
		t.Fatalf("AddHandle: %v", err)
	}

	ready <- struct{}{}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestRemoveHandleStopsDelivery(t *testing.T) {
	p := New(1, 4)
	defer p.Close()

	ready := make(chan struct{}, 4)
	var count int32

	err := p.AddHandle(Handle{
		ID:       "conn-1",
		Ready:    ready,
		Callback: func() { atomic.AddInt32(&count, 1) },
	})
	if err != nil {
		t.Fatalf("AddHandle: %v", err)
	}

	ready <- struct{}{}
	time.Sleep(50 * time.Millisecond)

	p.RemoveHandle("conn-1")
	time.Sleep(20 * time.Millisecond)

	before := atomic.LoadInt32(&count)

	// Further sends should not panic or deliver (channel still has a
	// buffered slot, but nothing is waiting on it anymore).
	select {
	case ready <- struct{}{}:
	default:
	}
	time.Sleep(50 * time.Millisecond)

	after := atomic.LoadInt32(&count)
	if after != before {
		t.Fatalf("callback fired after removal: before=%d after=%d", before, after)
	}
}

func TestCloseJoinsWorkers(t *testing.T) {
	p := New(3, 4)
	ready := make(chan struct{})
	if err := p.AddHandle(Handle{ID: 1, Ready: ready, Callback: func() {}}); err != nil {
		t.Fatalf("AddHandle: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestCloseReportsPanickingWorker(t *testing.T) {
	p := New(2, 4)

	ready := make(chan struct{}, 1)
	if err := p.AddHandle(Handle{
		ID:    "conn-1",
		Ready: ready,
		Callback: func() {
			panic("boom")
		},
	}); err != nil {
		t.Fatalf("AddHandle: %v", err)
	}

	ready <- struct{}{}
	time.Sleep(50 * time.Millisecond)

	if err := p.Close(); err == nil {
		t.Fatal("Close did not report the panicking worker's error")
	}
}

func TestSpillsIntoSecondBlock(t *testing.T) {
	p := New(1, 1)
	defer p.Close()

	if err := p.AddHandle(Handle{ID: 1, Ready: make(chan struct{}), Callback: func() {}}); err != nil {
		t.Fatalf("AddHandle 1: %v", err)
	}
	if err := p.AddHandle(Handle{ID: 2, Ready: make(chan struct{}), Callback: func() {}}); err != nil {
		t.Fatalf("AddHandle 2: %v", err)
	}

	p.mu.Lock()
	nBlocks := len(p.blocks)
	p.mu.Unlock()

	if nBlocks != 2 {
		t.Fatalf("expected 2 blocks once the first is full, got %d", nBlocks)
	}
}
