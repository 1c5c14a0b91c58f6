package dpnetpeer

// AsyncClass is the high-bits tag encoded into every async handle,
// matching original_source/src/AsyncHandleAllocator.hpp's TYPE_* values.
// It lets CancelAsyncOperation route a bare class-mask cancellation to
// the right subsystem without scanning every outstanding operation.
type AsyncClass uint32

const (
	classTypeMask AsyncClass = 0xE0000000

	ClassEnum    AsyncClass = 0x00000000 // EnumHosts()
	ClassConnect AsyncClass = 0x20000000 // Connect()
	ClassSend    AsyncClass = 0x40000000 // SendTo()
	ClassPInfo   AsyncClass = 0x60000000 // SetPeerInfo()
	ClassCGroup  AsyncClass = 0x80000000 // CreateGroup()
	ClassDGroup  AsyncClass = 0xA0000000 // DestroyGroup()
	ClassAPGroup AsyncClass = 0xC0000000 // AddPlayerToGroup()
	ClassRPGroup AsyncClass = 0xE0000000 // RemovePlayerFromGroup()
)

// String names an AsyncClass the way its originating call is named,
// for metrics/log labels.
func (c AsyncClass) String() string {
	switch c {
	case ClassEnum:
		return "enum"
	case ClassConnect:
		return "connect"
	case ClassSend:
		return "send"
	case ClassPInfo:
		return "pinfo"
	case ClassCGroup:
		return "cgroup"
	case ClassDGroup:
		return "dgroup"
	case ClassAPGroup:
		return "apgroup"
	case ClassRPGroup:
		return "rpgroup"
	default:
		return "unknown"
	}
}

// InvalidHandle and the all-ones handle are reserved and never issued.
const InvalidHandle uint32 = 0

const allOnesHandle uint32 = 0xFFFFFFFF

// ClassOf extracts the AsyncClass tag from a handle produced by
// asyncHandleAllocator.
func ClassOf(handle uint32) AsyncClass {
	return AsyncClass(handle) & classTypeMask
}

// asyncHandleAllocator issues opaque 32-bit async handles. Each of the
// eight classes is allocated independently and sequentially, starting at
// 1 and wrapping to 1 on overflow of the 29-bit counter space (the
// allocator never emits 0 or the all-ones pattern). Produced handles are
// not tracked in an occupancy map, matching
// original_source/src/AsyncHandleAllocator.cpp's comment that nobody
// will realistically have 2^29 operations in flight at once.
type asyncHandleAllocator struct {
	next [8]uint32
}

func newAsyncHandleAllocator() *asyncHandleAllocator {
	a := &asyncHandleAllocator{}
	for i := range a.next {
		a.next[i] = 1
	}
	return a
}

func classIndex(class AsyncClass) int {
	switch class {
	case ClassEnum:
		return 0
	case ClassConnect:
		return 1
	case ClassSend:
		return 2
	case ClassPInfo:
		return 3
	case ClassCGroup:
		return 4
	case ClassDGroup:
		return 5
	case ClassAPGroup:
		return 6
	case ClassRPGroup:
		return 7
	default:
		panic("dpnetpeer: unknown async class")
	}
}

func (a *asyncHandleAllocator) new(class AsyncClass) uint32 {
	idx := classIndex(class)
	counter := a.next[idx] &^ uint32(classTypeMask)

	handle := counter | uint32(class)

	counter++
	if counter&uint32(classTypeMask) != 0 || counter == 0 || counter|uint32(class) == allOnesHandle {
		counter = 1
	}
	a.next[idx] = counter

	return handle
}

func (a *asyncHandleAllocator) newEnum() uint32    { return a.new(ClassEnum) }
func (a *asyncHandleAllocator) newConnect() uint32 { return a.new(ClassConnect) }
func (a *asyncHandleAllocator) newSend() uint32    { return a.new(ClassSend) }
func (a *asyncHandleAllocator) newPInfo() uint32   { return a.new(ClassPInfo) }
func (a *asyncHandleAllocator) newCGroup() uint32  { return a.new(ClassCGroup) }
func (a *asyncHandleAllocator) newDGroup() uint32  { return a.new(ClassDGroup) }
func (a *asyncHandleAllocator) newAPGroup() uint32 { return a.new(ClassAPGroup) }
func (a *asyncHandleAllocator) newRPGroup() uint32 { return a.new(ClassRPGroup) }
