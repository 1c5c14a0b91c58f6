// Package hostenum drives the client side of host discovery: periodic
// HOST_ENUM_REQUEST transmission over UDP with bounded retry and a
// timeout, delivering each accepted HOST_ENUM_RESPONSE to a callback.
// It is grounded on original_source/src/HostEnumerator.cpp's
// transmit/receive loop and adapted to Go's goroutine-per-request model
// the way beacon.Beacon runs its listen/signal pair as two goroutines
// instead of HostEnumerator's single worker thread.
package hostenum

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/dpnetpeer/dpnetpeer/errs"
	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
)

// Defaults mirror original_source/src/HostEnumerator.hpp's
// DEFAULT_ENUM_COUNT/DEFAULT_ENUM_INTERVAL/DEFAULT_ENUM_TIMEOUT.
const (
	DefaultCount    = 5
	DefaultInterval = 1500 * time.Millisecond
	DefaultTimeout  = 1500 * time.Millisecond
)

// Request configures one EnumHosts operation.
type Request struct {
	// Dest is where HOST_ENUM_REQUEST datagrams are sent; a caller
	// wanting a local-segment broadcast passes a broadcast address.
	Dest *net.UDPAddr

	// ApplicationGUID filters replies; the zero UUID matches any
	// application, mirroring application_guid | NULL in spec.md §4.4.
	ApplicationGUID uuid.UUID

	UserData []byte

	// Count is the number of requests to transmit; 0 selects
	// DefaultCount.
	Count int

	// RetryInterval and Timeout select DefaultInterval/DefaultTimeout
	// when zero.
	RetryInterval time.Duration
	Timeout       time.Duration
}

// Response is delivered once per accepted HOST_ENUM_RESPONSE datagram.
type Response struct {
	From      *net.UDPAddr
	AppDesc   []byte
	UserData  []byte
	RoundTrip time.Duration
}

// ResponseFunc is invoked from the enumerator's own goroutine for every
// accepted response; callers needing instance-lock safety must do their
// own synchronization, matching the ENUM_HOSTS_RESPONSE event dispatch
// discipline in spec.md §4.7.
type ResponseFunc func(Response)

type datagram struct {
	n    int
	from *net.UDPAddr
	buf  []byte
}

// Enumerator drives one outstanding EnumHosts operation.
type Enumerator struct {
	conn   *net.UDPConn
	cancel chan struct{}
	done   chan error
}

// Start launches the transmit/receive loop on conn (which the caller
// owns and must not use concurrently for anything else while the
// operation is outstanding) and returns immediately. Call Wait to block
// for completion, or Cancel to abort early with errs.KindUserCancel.
func Start(conn *net.UDPConn, req Request, onResponse ResponseFunc) *Enumerator {
	if req.Count <= 0 {
		req.Count = DefaultCount
	}
	if req.RetryInterval <= 0 {
		req.RetryInterval = DefaultInterval
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}

	e := &Enumerator{
		conn:   conn,
		cancel: make(chan struct{}),
		done:   make(chan error, 1),
	}

	go e.run(req, onResponse)

	return e
}

// Cancel requests early termination; Wait will then return a
// KindUserCancel error.
func (e *Enumerator) Cancel() {
	select {
	case <-e.cancel:
	default:
		close(e.cancel)
	}
}

// Wait blocks until the operation completes, is cancelled, or its final
// deadline passes, and returns the terminal result.
func (e *Enumerator) Wait() error {
	return <-e.done
}

func (e *Enumerator) run(req Request, onResponse ResponseFunc) {
	txRemain := req.Count
	nextTX := time.Now()
	stopAt := time.Now().Add(req.Timeout)

	recv := make(chan datagram)
	stop := make(chan struct{})
	go e.recvLoop(recv, stop)
	defer close(stop)

	for {
		now := time.Now()

		if txRemain > 0 && !now.Before(nextTX) {
			tick := now.UnixMilli()
			if err := e.transmit(req, uint64(tick)); err == nil {
				txRemain--
			}
			nextTX = now.Add(req.RetryInterval)
			stopAt = now.Add(req.Timeout)
		}

		if txRemain == 0 && now.After(stopAt) {
			e.done <- nil
			return
		}

		wait := stopAt.Sub(now)
		if txRemain > 0 {
			if until := nextTX.Sub(now); until < wait {
				wait = until
			}
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-e.cancel:
			e.done <- errs.New(errs.KindUserCancel, "host enumeration cancelled")
			return
		case <-time.After(wait):
			continue
		case d := <-recv:
			e.handlePacket(d.buf[:d.n], d.from, onResponse)
		}
	}
}

func (e *Enumerator) recvLoop(out chan<- datagram, stop <-chan struct{}) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-stop:
			return
		default:
		}

		e.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])

		select {
		case out <- datagram{n: n, from: from, buf: cp}:
		case <-stop:
			return
		}
	}
}

func (e *Enumerator) transmit(req Request, tick uint64) error {
	ser := packet.NewSerializer(uint32(wire.MsgHostEnumRequest))

	if req.ApplicationGUID == uuid.Nil {
		ser.AppendNull()
	} else {
		ser.AppendGUID([16]byte(req.ApplicationGUID))
	}

	if req.UserData == nil {
		ser.AppendNull()
	} else {
		ser.AppendData(req.UserData)
	}

	ser.AppendDWord(uint32(tick))

	_, err := e.conn.WriteToUDP(ser.Bytes(), req.Dest)
	return err
}

func (e *Enumerator) handlePacket(buf []byte, from *net.UDPAddr, onResponse ResponseFunc) {
	des, _, err := packet.Deserialize(buf)
	if err != nil || des.PacketType() != uint32(wire.MsgHostEnumResponse) {
		return
	}

	appDesc, err := des.GetData(wire.HostEnumResponseAppDesc)
	if err != nil {
		return
	}

	respData, _ := des.GetData(wire.HostEnumResponseUserData)

	echoedTick, err := des.GetDWord(wire.HostEnumResponseEchoedTick)
	if err != nil {
		return
	}

	rtt := time.Duration(uint64(time.Now().UnixMilli())-uint64(echoedTick)) * time.Millisecond

	onResponse(Response{
		From:      from,
		AppDesc:   appDesc,
		UserData:  respData,
		RoundTrip: rtt,
	})
}
