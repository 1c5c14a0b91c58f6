package dpnetpeer

import (
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dpnetpeer/dpnetpeer/iopool"
	"github.com/dpnetpeer/dpnetpeer/sendqueue"
)

// State is the top-level lifecycle state of an Instance (spec.md §3).
type State int

const (
	StateNew State = iota
	StateInitialised
	StateHosting
	StateConnecting
	StateConnectFailed
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateInitialised:
		return "INITIALISED"
	case StateHosting:
		return "HOSTING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnectFailed:
		return "CONNECT_FAILED"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// ApplicationDesc mirrors DPN_APPLICATION_DESC (spec.md §3): the host
// owns the canonical copy, peers hold a replica refreshed by broadcast.
type ApplicationDesc struct {
	ApplicationGUID uuid.UUID
	MaxPlayers      uint32
	CurrentPlayers  uint32
	SessionName     string
	Password        string
	ReservedData    []byte
}

// Instance is one process-facing session object: the top-level type
// applications construct, modeled on the teacher's Gyre/Node split
// (gyre.go/node.go) but collapsed into a single type, since this
// protocol's Instance owns both the public surface and the state
// machine directly rather than splitting user API from node internals
// across a control pipe.
type Instance struct {
	mu sync.Mutex

	connectCV        *sync.Cond
	hostEnumComplete *sync.Cond
	peerDestroyed    *sync.Cond

	state State

	instanceGUID    uuid.UUID
	applicationDesc ApplicationDesc

	localPlayerID PlayerID
	localName     string
	localData     []byte

	hostPlayerID PlayerID
	nextPlayerID uint32 // host only

	handler EventHandler
	context interface{}

	// localContext is the local player's own PlayerContext slot (spec.md
	// §4.7); every other player's slot lives on its peerConn, and every
	// group's on its group struct.
	localContext interface{}

	// retainedBuffers holds buffers an application asked to keep alive
	// past its callback via Event.RetainBuffer, keyed by the handle
	// dispatch() handed back, until ReturnBuffer releases them (spec.md
	// §4.7 RETURN_BUFFER).
	retainedBuffers  map[uint32][]byte
	nextBufferHandle uint32

	handles *asyncHandleAllocator

	tcpListener net.Listener
	udpConn     *net.UDPConn
	discoveryConn *net.UDPConn

	pool *iopool.Pool

	udpQueue *sendqueue.Queue

	peers map[PlayerID]*peerConn

	groups        map[GroupID]*group
	destroyedGroups map[GroupID]bool
	nextGroupID   uint32

	log *logrus.Logger
	metrics *dpnetMetrics

	closed bool
}

// Config supplies the construction-time parameters for NewInstance.
type Config struct {
	Handler EventHandler
	Context interface{}
}

// NewInstance allocates an Instance in StateNew, matching the
// DirectPlay8 CoCreateInstance→Initialize two-step collapsed into one
// constructor since the component-object packaging is out of scope
// (spec.md §1).
func NewInstance(cfg Config) *Instance {
	inst := &Instance{
		state:           StateInitialised,
		instanceGUID:    uuid.New(),
		handler:         cfg.Handler,
		context:         cfg.Context,
		handles:         newAsyncHandleAllocator(),
		udpQueue:        sendqueue.New(),
		peers:           make(map[PlayerID]*peerConn),
		groups:          make(map[GroupID]*group),
		destroyedGroups: make(map[GroupID]bool),
		retainedBuffers: make(map[uint32][]byte),
		log:             newLogger(),
		metrics:         newMetrics(),
	}
	inst.connectCV = sync.NewCond(&inst.mu)
	inst.hostEnumComplete = sync.NewCond(&inst.mu)
	inst.peerDestroyed = sync.NewCond(&inst.mu)

	return inst
}

// State returns the instance's current top-level state.
func (inst *Instance) State() State {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state
}

// nextPlayer allocates the next player identifier; only meaningful
// while HOSTING, since only the host owns identifier allocation
// (spec.md §4.5.1). Caller must hold inst.mu.
func (inst *Instance) nextPlayer() PlayerID {
	inst.nextPlayerID++
	return PlayerID(inst.nextPlayerID)
}

// nextGroup allocates the next group identifier; same allocator space
// as players, distinguished only by which table it ends up in
// (spec.md §4.5.7). Caller must hold inst.mu.
func (inst *Instance) nextGroup() GroupID {
	inst.nextPlayerID++
	return GroupID(inst.nextPlayerID)
}
