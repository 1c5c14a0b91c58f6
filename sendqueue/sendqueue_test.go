package sendqueue

import "testing"

func TestPriorityOrdering(t *testing.T) {
	q := New()
	low := &Op{Data: []byte("low"), AsyncHandle: 1}
	med := &Op{Data: []byte("med"), AsyncHandle: 2}
	high := &Op{Data: []byte("high"), AsyncHandle: 3}

	q.Send(PriorityLow, low)
	q.Send(PriorityMedium, med)
	q.Send(PriorityHigh, high)

	got := q.GetPending()
	if got != high {
		t.Fatalf("expected HIGH first, got %v", got.Data)
	}
	q.PopPending(got)

	got = q.GetPending()
	if got != med {
		t.Fatalf("expected MEDIUM second, got %v", got.Data)
	}
	q.PopPending(got)

	got = q.GetPending()
	if got != low {
		t.Fatalf("expected LOW third, got %v", got.Data)
	}
	q.PopPending(got)

	if q.GetPending() != nil {
		t.Fatal("expected nil once drained")
	}
}

func TestCurrentStaysUntilPopped(t *testing.T) {
	q := New()
	op := &Op{Data: []byte("x"), AsyncHandle: 1}
	q.Send(PriorityHigh, op)

	if got := q.GetPending(); got != op {
		t.Fatalf("first call: %v", got)
	}
	if got := q.GetPending(); got != op {
		t.Fatalf("second call should still return current: %v", got)
	}
}

func TestPopPendingWrongOpPanics(t *testing.T) {
	q := New()
	op := &Op{Data: []byte("x"), AsyncHandle: 1}
	q.Send(PriorityHigh, op)
	q.GetPending()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic popping the wrong op")
		}
	}()
	q.PopPending(&Op{})
}

func TestInternalSendsInvisibleToCancellation(t *testing.T) {
	q := New()
	internal := &Op{Data: []byte("internal"), AsyncHandle: 0}
	visible := &Op{Data: []byte("visible"), AsyncHandle: 7}

	q.Send(PriorityHigh, internal)
	q.Send(PriorityHigh, visible)

	if got := q.RemoveQueued(); got != visible {
		t.Fatalf("RemoveQueued = %v, want visible op", got)
	}
	if got := q.RemoveQueued(); got != nil {
		t.Fatalf("RemoveQueued should skip the internal op, got %v", got)
	}
}

func TestRemoveQueuedByHandle(t *testing.T) {
	q := New()
	a := &Op{Data: []byte("a"), AsyncHandle: 1}
	b := &Op{Data: []byte("b"), AsyncHandle: 2}
	q.Send(PriorityLow, a)
	q.Send(PriorityLow, b)

	if got := q.RemoveQueuedByHandle(2); got != b {
		t.Fatalf("RemoveQueuedByHandle(2) = %v, want b", got)
	}
	if got := q.RemoveQueuedByHandle(2); got != nil {
		t.Fatalf("second RemoveQueuedByHandle(2) should be nil, got %v", got)
	}
	if got := q.RemoveQueuedByHandle(1); got != a {
		t.Fatalf("RemoveQueuedByHandle(1) = %v, want a", got)
	}
}

func TestRemoveQueuedByPriority(t *testing.T) {
	q := New()
	low := &Op{Data: []byte("low"), AsyncHandle: 1}
	high := &Op{Data: []byte("high"), AsyncHandle: 2}
	q.Send(PriorityLow, low)
	q.Send(PriorityHigh, high)

	if got := q.RemoveQueuedByPriority(PriorityHigh); got != high {
		t.Fatalf("RemoveQueuedByPriority(HIGH) = %v, want high", got)
	}
	if got := q.RemoveQueuedByPriority(PriorityHigh); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := q.RemoveQueuedByPriority(PriorityLow); got != low {
		t.Fatalf("RemoveQueuedByPriority(LOW) = %v, want low", got)
	}
}

func TestHandleIsPendingOnlyForCurrent(t *testing.T) {
	q := New()
	op := &Op{Data: []byte("x"), AsyncHandle: 5}
	q.Send(PriorityHigh, op)

	if q.HandleIsPending(5) {
		t.Fatal("should not be pending before GetPending makes it current")
	}
	q.GetPending()
	if !q.HandleIsPending(5) {
		t.Fatal("should be pending once current")
	}
	if q.HandleIsPending(6) {
		t.Fatal("unrelated handle must not be pending")
	}
}

func TestPartialSendAdvance(t *testing.T) {
	op := &Op{Data: []byte("hello world")}
	if done := op.Advance(5); done {
		t.Fatal("should not be done after partial advance")
	}
	if string(op.Pending()) != " world" {
		t.Fatalf("Pending = %q", op.Pending())
	}
	if done := op.Advance(6); !done {
		t.Fatal("should be done after full advance")
	}
}

func TestCompletionInvokedWithResult(t *testing.T) {
	var got Result = -1
	op := &Op{Data: []byte("x"), Completion: func(r Result) { got = r }}
	op.Complete(ResultTimeout)
	if got != ResultTimeout {
		t.Fatalf("completion result = %v, want ResultTimeout", got)
	}
}

func TestDrainAllIgnoresHandleZero(t *testing.T) {
	q := New()
	q.Send(PriorityLow, &Op{Data: []byte("a"), AsyncHandle: 0})
	q.Send(PriorityHigh, &Op{Data: []byte("b"), AsyncHandle: 9})

	ops := q.DrainAll()
	if len(ops) != 2 {
		t.Fatalf("DrainAll returned %d ops, want 2", len(ops))
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after DrainAll")
	}
}
