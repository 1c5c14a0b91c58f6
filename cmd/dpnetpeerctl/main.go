// Command dpnetpeerctl is a minimal exerciser for the dpnetpeer
// session core: run with -host to start a session, or -connect to join
// one, and watch membership/message events on stdout. Adapted from the
// teacher's cmd/ping exerciser (node.Join/node.Events loop), swapped
// for Instance.Host/Connect/SendTo and the richer event surface this
// core delivers.
package main

import (
	"flag"
	"log"
	"net"

	"github.com/google/uuid"

	"github.com/dpnetpeer/dpnetpeer"
)

func main() {
	host := flag.Bool("host", false, "host a new session")
	connect := flag.String("connect", "", "host address to connect to, e.g. 127.0.0.1:6072")
	name := flag.String("name", "player", "local player name")
	sessionName := flag.String("session", "dpnetpeerctl session", "session name when hosting")
	appGUIDFlag := flag.String("app", "", "application GUID (hex); random if empty")
	port := flag.Int("port", 0, "local TCP/UDP port; 0 for ephemeral")
	flag.Parse()

	appGUID := uuid.New()
	if *appGUIDFlag != "" {
		parsed, err := uuid.Parse(*appGUIDFlag)
		if err != nil {
			log.Fatalf("bad -app GUID: %v", err)
		}
		appGUID = parsed
	}

	inst := dpnetpeer.NewInstance(dpnetpeer.Config{
		Handler: logEvent,
	})

	switch {
	case *host:
		err := inst.Host(dpnetpeer.HostConfig{
			Desc: dpnetpeer.ApplicationDesc{
				ApplicationGUID: appGUID,
				SessionName:     *sessionName,
				MaxPlayers:      0,
			},
			Port: *port,
		})
		if err != nil {
			log.Fatalf("Host: %v", err)
		}
		if err := inst.SetPeerInfo(*name, nil); err != nil {
			log.Fatalf("SetPeerInfo: %v", err)
		}
		addrs, _ := inst.GetLocalHostAddresses()
		log.Printf("hosting %s app=%s on %v", *sessionName, appGUID, addrs)

	case *connect != "":
		hostAddr, err := net.ResolveTCPAddr("tcp", *connect)
		if err != nil {
			log.Fatalf("resolve -connect: %v", err)
		}
		if _, err := inst.Connect(dpnetpeer.ConnectConfig{
			ApplicationGUID: appGUID,
			HostAddr:        hostAddr,
			PlayerName:      *name,
		}); err != nil {
			log.Fatalf("Connect: %v", err)
		}

	default:
		log.Fatal("pass -host or -connect")
	}

	select {}
}

func logEvent(ev *dpnetpeer.Event) {
	switch ev.Type {
	case dpnetpeer.EventIndicateConnect, dpnetpeer.EventEnumHostsQuery:
		ev.Allow = true
	case dpnetpeer.EventCreatePlayer:
		log.Printf("player %d joined (local=%v)", ev.Player, ev.Local)
	case dpnetpeer.EventDestroyPlayer:
		log.Printf("player %d left", ev.Player)
	case dpnetpeer.EventReceive:
		log.Printf("message from %d: %q", ev.Sender, ev.Data)
	case dpnetpeer.EventConnectComplete:
		if ev.Result != nil {
			log.Printf("connect failed: %v", ev.Result)
		} else {
			log.Printf("connected")
		}
	default:
		log.Printf("event %s", ev.Type)
	}
}
