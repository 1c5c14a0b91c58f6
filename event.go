package dpnetpeer

import "net"

// EventType identifies the kind of event delivered through an Instance's
// application callback, mirroring the DPN_MSGID_* callback messages
// described in spec.md §4.7. Adapted from the teacher's EventType enum
// (gyre's ENTER/JOIN/LEAVE/EXIT/WHISPER/SHOUT), widened to the full
// DirectPlay8 Peer callback surface.
type EventType int

const (
	EventEnumHostsQuery EventType = iota
	EventEnumHostsResponse
	EventIndicateConnect
	EventCreatePlayer
	EventDestroyPlayer
	EventConnectComplete
	EventReceive
	EventSendComplete
	EventPeerInfo
	EventApplicationDesc
	EventCreateGroup
	EventDestroyGroup
	EventAddPlayerToGroup
	EventRemovePlayerFromGroup
	EventTerminateSession
	EventAsyncOpComplete
	EventReturnBuffer
	EventGroupInfo
)

// String converts an EventType to its DirectPlay message name.
func (t EventType) String() string {
	switch t {
	case EventEnumHostsQuery:
		return "ENUM_HOSTS_QUERY"
	case EventEnumHostsResponse:
		return "ENUM_HOSTS_RESPONSE"
	case EventIndicateConnect:
		return "INDICATE_CONNECT"
	case EventCreatePlayer:
		return "CREATE_PLAYER"
	case EventDestroyPlayer:
		return "DESTROY_PLAYER"
	case EventConnectComplete:
		return "CONNECT_COMPLETE"
	case EventReceive:
		return "RECEIVE"
	case EventSendComplete:
		return "SEND_COMPLETE"
	case EventPeerInfo:
		return "PEER_INFO"
	case EventApplicationDesc:
		return "APPLICATION_DESC"
	case EventCreateGroup:
		return "CREATE_GROUP"
	case EventDestroyGroup:
		return "DESTROY_GROUP"
	case EventAddPlayerToGroup:
		return "ADD_PLAYER_TO_GROUP"
	case EventRemovePlayerFromGroup:
		return "REMOVE_PLAYER_FROM_GROUP"
	case EventTerminateSession:
		return "TERMINATE_SESSION"
	case EventAsyncOpComplete:
		return "ASYNC_OP_COMPLETE"
	case EventReturnBuffer:
		return "RETURN_BUFFER"
	case EventGroupInfo:
		return "GROUP_INFO"
	default:
		return "UNKNOWN"
	}
}

// PlayerID and GroupID are opaque, instance-scoped identifiers handed
// out by the core (spec.md §3 DATA MODEL).
type PlayerID uint32

type GroupID uint32

// Event is the single struct passed to an application's callback for
// every EventType. Only the fields relevant to Type are populated; the
// rest are left at their zero value. PlayerContext/GroupContext mirror
// the DirectPlay convention of a per-object context slot that the core
// initialises and the application may overwrite in place: the written
// value is stored back into the instance's table after the callback
// returns (spec.md §4.7).
type Event struct {
	Type EventType

	Player PlayerID
	Group  GroupID

	PlayerContext interface{}
	GroupContext  interface{}

	// EnumHostsQuery / IndicateConnect
	FromAddr net.Addr
	Allow    bool // application writes this to accept/reject
	// UserData is the requester's HOST_ENUM_REQUEST payload (EnumHostsQuery
	// only); on return, an application wanting to attach data to the
	// HOST_ENUM_RESPONSE writes it into Buffer instead (spec.md §4.4).
	UserData []byte

	// Receive
	Data   []byte
	Sender PlayerID

	// CreatePlayer / DestroyPlayer
	Local bool

	// ConnectComplete / SendComplete / AsyncOpComplete
	AsyncHandle uint32
	Result      error

	// PeerInfo / ApplicationDesc
	Info interface{}

	// ReturnBuffer: an application sets RetainBuffer on a Receive (or
	// similar buffer-carrying) event to keep Buffer alive past the
	// callback's return instead of letting the core reuse/discard it;
	// the core then hands back BufferHandle for a later ReturnBuffer
	// call to release it (spec.md §4.7 RETURN_BUFFER).
	Buffer       []byte
	RetainBuffer bool
	BufferHandle uint32
}

// EventHandler is the application callback signature. The core releases
// its instance lock before invoking it and re-acquires the lock once it
// returns (spec.md §4.7, §5).
type EventHandler func(*Event)

// dispatch invokes the handler with inst's lock released, then
// re-acquires the lock before returning so callers can safely continue
// to mutate instance state afterwards. Callers must hold inst.mu on
// entry; any state the event referenced must be revalidated by the
// caller after dispatch returns, since a peer or group may have been
// destroyed while the callback ran.
func (inst *Instance) dispatch(ev *Event) {
	switch ev.Type {
	case EventCreatePlayer, EventDestroyPlayer:
		inst.metrics.peersConnected.Set(float64(len(inst.peers)))
	case EventConnectComplete, EventSendComplete, EventAsyncOpComplete:
		result := "ok"
		if ev.Result != nil {
			result = KindOf(ev.Result).String()
		}
		inst.metrics.asyncOpsComplete.WithLabelValues(ClassOf(ev.AsyncHandle).String(), result).Inc()
	}

	if inst.handler == nil {
		return
	}

	// Player/group ids are never 0 (allocation starts at 1), so that
	// value doubles as "this event doesn't reference one" without a
	// separate bool. Context is prefilled from the stored per-object
	// slot before the callback runs and written back after, mirroring
	// DirectPlay8's per-object context convention (spec.md §4.7).
	local := ev.Local && ev.Player == inst.localPlayerID
	var pc *peerConn
	if ev.Player != 0 && !local {
		pc = inst.peers[ev.Player]
	}
	var g *group
	if ev.Group != 0 {
		g = inst.groups[ev.Group]
	}

	switch {
	case local:
		ev.PlayerContext = inst.localContext
	case pc != nil:
		ev.PlayerContext = pc.context
	}
	if g != nil {
		ev.GroupContext = g.context
	}

	inst.mu.Unlock()
	inst.handler(ev)
	inst.mu.Lock()

	switch {
	case local:
		inst.localContext = ev.PlayerContext
	case pc != nil:
		pc.context = ev.PlayerContext
	}
	if g != nil {
		g.context = ev.GroupContext
	}

	if ev.RetainBuffer && ev.Buffer != nil {
		inst.nextBufferHandle++
		ev.BufferHandle = inst.nextBufferHandle
		inst.retainedBuffers[ev.BufferHandle] = ev.Buffer
	}
}
