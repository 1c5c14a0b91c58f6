package dpnetpeer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestFullMeshPromotion verifies that once a third player joins an
// existing host+peer session, it ends up directly connected to the
// peer as well as the host, not relayed through the host alone
// (spec.md §4.5.4).
func TestFullMeshPromotion(t *testing.T) {
	appGUID := uuid.New()

	host := NewInstance(Config{Handler: func(ev *Event) {
		if ev.Type == EventIndicateConnect {
			ev.Allow = true
		}
	}})
	if err := host.Host(HostConfig{
		Desc:     ApplicationDesc{ApplicationGUID: appGUID, SessionName: "mesh test"},
		BindAddr: net.IPv4(127, 0, 0, 1),
	}); err != nil {
		t.Fatalf("Host: %v", err)
	}
	defer host.Close(true)

	addrs, _ := host.GetLocalHostAddresses()
	hostTCPAddr, _ := net.ResolveTCPAddr("tcp", addrs[0])

	peerA := NewInstance(Config{Handler: func(*Event) {}})
	if _, err := peerA.Connect(ConnectConfig{
		ApplicationGUID: appGUID,
		HostAddr:        hostTCPAddr,
		PlayerName:      "a",
	}); err != nil {
		t.Fatalf("peerA Connect: %v", err)
	}
	defer peerA.Close(true)

	waitFor(t, func() bool { return peerA.State() == StateConnected }, time.Second)

	var peerBMu sync.Mutex
	peerBSawA := false
	peerB := NewInstance(Config{Handler: func(ev *Event) {
		peerBMu.Lock()
		defer peerBMu.Unlock()
		if ev.Type == EventCreatePlayer && ev.Player == peerA.localIDSnapshot() {
			peerBSawA = true
		}
	}})
	if _, err := peerB.Connect(ConnectConfig{
		ApplicationGUID: appGUID,
		HostAddr:        hostTCPAddr,
		PlayerName:      "b",
	}); err != nil {
		t.Fatalf("peerB Connect: %v", err)
	}
	defer peerB.Close(true)

	waitFor(t, func() bool { return peerB.State() == StateConnected }, time.Second)

	waitFor(t, func() bool {
		peerBMu.Lock()
		defer peerBMu.Unlock()
		return peerBSawA
	}, time.Second)

	waitFor(t, func() bool {
		_, err := peerB.GetPeerAddress(peerA.localIDSnapshot())
		return err == nil
	}, time.Second)

	waitFor(t, func() bool {
		_, err := peerA.GetPeerAddress(peerB.localIDSnapshot())
		return err == nil
	}, time.Second)
}

// localIDSnapshot exposes localPlayerID for test assertions without
// adding a public accessor to the production API surface.
func (inst *Instance) localIDSnapshot() PlayerID {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.localPlayerID
}

// TestGroupAllocateFromNonHost exercises a non-host player creating a
// group, which must round-trip through GROUP_ALLOCATE to the host
// before the group id is usable (spec.md §4.5.7).
func TestGroupAllocateFromNonHost(t *testing.T) {
	appGUID := uuid.New()

	host := NewInstance(Config{Handler: func(ev *Event) {
		if ev.Type == EventIndicateConnect {
			ev.Allow = true
		}
	}})
	if err := host.Host(HostConfig{
		Desc:     ApplicationDesc{ApplicationGUID: appGUID},
		BindAddr: net.IPv4(127, 0, 0, 1),
	}); err != nil {
		t.Fatalf("Host: %v", err)
	}
	defer host.Close(true)

	addrs, _ := host.GetLocalHostAddresses()
	hostTCPAddr, _ := net.ResolveTCPAddr("tcp", addrs[0])

	client := NewInstance(Config{Handler: func(*Event) {}})
	if _, err := client.Connect(ConnectConfig{
		ApplicationGUID: appGUID,
		HostAddr:        hostTCPAddr,
		PlayerName:      "client",
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close(true)

	waitFor(t, func() bool { return client.State() == StateConnected }, time.Second)

	id, err := client.CreateGroup("clan", nil, nil)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero allocated group id")
	}

	name, _, err := client.GetGroupInfo(id)
	if err != nil {
		t.Fatalf("GetGroupInfo: %v", err)
	}
	if name != "clan" {
		t.Fatalf("GetGroupInfo name = %q, want clan", name)
	}
}

// TestPlayerContextRoundTrip verifies that context a handler stores
// into a CREATE_PLAYER event's PlayerContext is handed back on a
// subsequent event naming the same player (spec.md §4.7).
func TestPlayerContextRoundTrip(t *testing.T) {
	appGUID := uuid.New()

	type ctxVal struct{ n int }

	var hostMu sync.Mutex
	var gotOnReceive interface{}

	host := NewInstance(Config{Handler: func(ev *Event) {
		hostMu.Lock()
		defer hostMu.Unlock()
		switch ev.Type {
		case EventIndicateConnect:
			ev.Allow = true
		case EventCreatePlayer:
			if !ev.Local {
				ev.PlayerContext = &ctxVal{n: 42}
			}
		case EventReceive:
			gotOnReceive = ev.PlayerContext
		}
	}})
	if err := host.Host(HostConfig{
		Desc:     ApplicationDesc{ApplicationGUID: appGUID},
		BindAddr: net.IPv4(127, 0, 0, 1),
	}); err != nil {
		t.Fatalf("Host: %v", err)
	}
	defer host.Close(true)

	addrs, _ := host.GetLocalHostAddresses()
	hostTCPAddr, _ := net.ResolveTCPAddr("tcp", addrs[0])

	client := NewInstance(Config{Handler: func(*Event) {}})
	if _, err := client.Connect(ConnectConfig{
		ApplicationGUID: appGUID,
		HostAddr:        hostTCPAddr,
		PlayerName:      "client",
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close(true)

	waitFor(t, func() bool { return client.State() == StateConnected }, time.Second)

	clientID := client.localIDSnapshot()
	if _, err := client.SendTo(host.localIDSnapshot(), []byte("hi"), 0); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	waitFor(t, func() bool {
		hostMu.Lock()
		defer hostMu.Unlock()
		return gotOnReceive != nil
	}, time.Second)

	hostMu.Lock()
	v, ok := gotOnReceive.(*ctxVal)
	hostMu.Unlock()
	if !ok || v.n != 42 {
		t.Fatalf("PlayerContext on RECEIVE = %#v, want &ctxVal{42}", gotOnReceive)
	}

	got, err := host.GetPlayerContext(clientID)
	if err != nil {
		t.Fatalf("GetPlayerContext: %v", err)
	}
	if cv, ok := got.(*ctxVal); !ok || cv.n != 42 {
		t.Fatalf("GetPlayerContext = %#v, want &ctxVal{42}", got)
	}
}

// TestReturnBuffer verifies that retaining an event's buffer hands
// back a handle that ReturnBuffer later releases, and that releasing
// an unknown handle reports an error (spec.md §4.7 RETURN_BUFFER).
// Drives dispatch() directly rather than over the network, since the
// handle is only observable after the handler returns.
func TestReturnBuffer(t *testing.T) {
	inst := NewInstance(Config{Handler: func(ev *Event) {
		if ev.Type == EventReceive {
			ev.RetainBuffer = true
			ev.Buffer = append([]byte(nil), ev.Data...)
		}
	}})

	inst.mu.Lock()
	ev := &Event{Type: EventReceive, Data: []byte("payload")}
	inst.dispatch(ev)
	inst.mu.Unlock()

	if !ev.RetainBuffer || ev.BufferHandle == 0 {
		t.Fatalf("expected a nonzero BufferHandle after RetainBuffer, got %+v", ev)
	}

	if err := inst.ReturnBuffer(ev.BufferHandle); err != nil {
		t.Fatalf("ReturnBuffer: %v", err)
	}
	if err := inst.ReturnBuffer(ev.BufferHandle); err == nil {
		t.Fatal("expected error releasing an already-returned buffer handle")
	}
	if err := inst.ReturnBuffer(999999); err == nil {
		t.Fatal("expected error releasing an unknown buffer handle")
	}
}
