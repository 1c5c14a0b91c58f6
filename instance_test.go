package dpnetpeer

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestHostAcceptsConnect(t *testing.T) {
	appGUID := uuid.New()

	var hostMu sync.Mutex
	var hostSawCreatePlayer bool

	host := NewInstance(Config{Handler: func(ev *Event) {
		hostMu.Lock()
		defer hostMu.Unlock()
		switch ev.Type {
		case EventIndicateConnect:
			ev.Allow = true
		case EventCreatePlayer:
			hostSawCreatePlayer = true
		}
	}})

	err := host.Host(HostConfig{
		Desc: ApplicationDesc{ApplicationGUID: appGUID, SessionName: "test session"},
		BindAddr: net.IPv4(127, 0, 0, 1),
	})
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	defer host.Close(true)

	addrs, err := host.GetLocalHostAddresses()
	if err != nil || len(addrs) == 0 {
		t.Fatalf("GetLocalHostAddresses: %v %v", addrs, err)
	}

	hostTCPAddr, err := net.ResolveTCPAddr("tcp", addrs[0])
	if err != nil {
		t.Fatalf("resolve host addr: %v", err)
	}

	var clientMu sync.Mutex
	var connectResult error
	var connectComplete bool

	client := NewInstance(Config{Handler: func(ev *Event) {
		clientMu.Lock()
		defer clientMu.Unlock()
		if ev.Type == EventConnectComplete {
			connectResult = ev.Result
			connectComplete = true
		}
	}})

	_, err = client.Connect(ConnectConfig{
		ApplicationGUID: appGUID,
		HostAddr:        hostTCPAddr,
		PlayerName:      "client",
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close(true)

	waitFor(t, func() bool {
		clientMu.Lock()
		defer clientMu.Unlock()
		return connectComplete
	}, time.Second)

	clientMu.Lock()
	if connectResult != nil {
		clientMu.Unlock()
		t.Fatalf("CONNECT_COMPLETE reported failure: %v", connectResult)
	}
	clientMu.Unlock()

	waitFor(t, func() bool {
		hostMu.Lock()
		defer hostMu.Unlock()
		return hostSawCreatePlayer
	}, time.Second)

	if client.State() != StateConnected {
		t.Fatalf("client state = %v, want CONNECTED", client.State())
	}
}

func TestConnectWrongApplicationRejected(t *testing.T) {
	host := NewInstance(Config{Handler: func(ev *Event) {
		if ev.Type == EventIndicateConnect {
			ev.Allow = true
		}
	}})

	err := host.Host(HostConfig{
		Desc:     ApplicationDesc{ApplicationGUID: uuid.New()},
		BindAddr: net.IPv4(127, 0, 0, 1),
	})
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	defer host.Close(true)

	addrs, _ := host.GetLocalHostAddresses()
	hostTCPAddr, _ := net.ResolveTCPAddr("tcp", addrs[0])

	client := NewInstance(Config{Handler: func(*Event) {}})
	_, err = client.Connect(ConnectConfig{
		ApplicationGUID: uuid.New(), // different GUID than host's
		HostAddr:        hostTCPAddr,
		PlayerName:      "client",
	})
	if err == nil {
		t.Fatal("expected connect failure for mismatched application GUID")
	}
	if KindOf(err) != KindInvalidApplication {
		t.Fatalf("KindOf(err) = %v, want KindInvalidApplication", KindOf(err))
	}
}
