package dpnetpeer

import "testing"

func TestNewHandlesStartAtOne(t *testing.T) {
	a := newAsyncHandleAllocator()
	if h := a.newEnum(); h != uint32(ClassEnum)|1 {
		t.Fatalf("first enum handle = %#x, want %#x", h, uint32(ClassEnum)|1)
	}
	if h := a.newSend(); h != uint32(ClassSend)|1 {
		t.Fatalf("first send handle = %#x, want %#x", h, uint32(ClassSend)|1)
	}
}

func TestHandlesSequential(t *testing.T) {
	a := newAsyncHandleAllocator()
	first := a.newConnect()
	second := a.newConnect()
	if second != first+1 {
		t.Fatalf("second = %#x, want %#x", second, first+1)
	}
}

func TestClassesIndependent(t *testing.T) {
	a := newAsyncHandleAllocator()
	a.newSend()
	a.newSend()
	h := a.newConnect()
	if h != uint32(ClassConnect)|1 {
		t.Fatalf("connect counter affected by send allocations: got %#x", h)
	}
}

func TestClassOf(t *testing.T) {
	a := newAsyncHandleAllocator()
	for _, tc := range []struct {
		class AsyncClass
		alloc func() uint32
	}{
		{ClassEnum, a.newEnum},
		{ClassConnect, a.newConnect},
		{ClassSend, a.newSend},
		{ClassPInfo, a.newPInfo},
		{ClassCGroup, a.newCGroup},
		{ClassDGroup, a.newDGroup},
		{ClassAPGroup, a.newAPGroup},
		{ClassRPGroup, a.newRPGroup},
	} {
		h := tc.alloc()
		if got := ClassOf(h); got != tc.class {
			t.Fatalf("ClassOf(%#x) = %#x, want %#x", h, got, tc.class)
		}
	}
}

func TestWrapsToOneOnOverflow(t *testing.T) {
	a := newAsyncHandleAllocator()
	a.next[classIndex(ClassSend)] = uint32(classTypeMask) - 1
	last := a.newSend()
	if ClassOf(last) != ClassSend {
		t.Fatalf("class corrupted near overflow: %#x", last)
	}
	wrapped := a.newSend()
	if wrapped != uint32(ClassSend)|1 {
		t.Fatalf("wrapped = %#x, want %#x", wrapped, uint32(ClassSend)|1)
	}
}

func TestNeverEmitsInvalidOrAllOnes(t *testing.T) {
	a := newAsyncHandleAllocator()
	for i := 0; i < 1000; i++ {
		h := a.newEnum()
		if h == InvalidHandle || h == allOnesHandle {
			t.Fatalf("allocator emitted reserved handle %#x", h)
		}
	}
}
