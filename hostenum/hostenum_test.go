package hostenum

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	return conn
}

func TestEnumerateReceivesResponse(t *testing.T) {
	client := listenUDP(t)
	defer client.Close()
	server := listenUDP(t)
	defer server.Close()

	appGUID := uuid.New()

	go func() {
		buf := make([]byte, 65536)
		for {
			server.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, from, err := server.ReadFromUDP(buf)
			if err != nil {
				return
			}
			HandleRequest(server, buf[:n], from, func(q Query) (bool, []byte, []byte) {
				if q.ApplicationGUID != appGUID {
					return false, nil, nil
				}
				return true, []byte("app-desc"), []byte("resp")
			})
		}
	}()

	var mu sync.Mutex
	var got []Response

	e := Start(client, Request{
		Dest:            server.LocalAddr().(*net.UDPAddr),
		ApplicationGUID: appGUID,
		Count:           3,
		RetryInterval:   50 * time.Millisecond,
		Timeout:         500 * time.Millisecond,
	}, func(r Response) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})

	if err := e.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("expected at least one response")
	}
	if string(got[0].AppDesc) != "app-desc" {
		t.Fatalf("AppDesc = %q", got[0].AppDesc)
	}
}

func TestCancelStopsEarly(t *testing.T) {
	client := listenUDP(t)
	defer client.Close()

	e := Start(client, Request{
		Dest:          &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1},
		Count:         100,
		RetryInterval: 10 * time.Millisecond,
		Timeout:       10 * time.Second,
	}, func(Response) {})

	time.Sleep(20 * time.Millisecond)
	e.Cancel()

	err := e.Wait()
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestFilteredRequestDropped(t *testing.T) {
	server := listenUDP(t)
	defer server.Close()

	other := uuid.New()
	mine := uuid.New()

	answered := false
	buf := make([]byte, 65536)

	client := listenUDP(t)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		n, from, err := server.ReadFromUDP(buf)
		if err != nil {
			return
		}
		answered = HandleRequest(server, buf[:n], from, func(q Query) (bool, []byte, []byte) {
			return q.ApplicationGUID == mine, nil, nil
		})
	}()

	e := Start(client, Request{
		Dest:            server.LocalAddr().(*net.UDPAddr),
		ApplicationGUID: other,
		Count:           1,
		RetryInterval:   10 * time.Millisecond,
		Timeout:         100 * time.Millisecond,
	}, func(Response) {
		t.Fatal("unexpected response for filtered-out application")
	})
	e.Wait()
	<-done

	if !answered {
		t.Fatal("expected HandleRequest to recognize the request even though it declined to reply")
	}
}
