package dpnetpeer

import (
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/dpnetpeer/dpnetpeer/errs"
	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
)

// ConnectConfig parameters for Connect().
type ConnectConfig struct {
	ApplicationGUID uuid.UUID
	HostAddr        *net.TCPAddr
	Password        string
	UserConnectData []byte
	PlayerName      string
	PlayerData      []byte
}

// Connect drives the client side of the handshake (spec.md §4.5.2):
// allocate a connect-class async handle, dial the host, send
// CONNECT_HOST, and await CONNECT_HOST_OK/FAIL. On success it adopts
// the assigned player id and transitions to CONNECTED; on failure it
// transitions to CONNECT_FAILED.
func (inst *Instance) Connect(cfg ConnectConfig) (uint32, error) {
	inst.mu.Lock()
	if inst.state != StateInitialised {
		inst.mu.Unlock()
		return 0, errs.New(errs.KindAlreadyConnected, "instance is not in INITIALISED state")
	}
	handle := inst.handles.newConnect()
	inst.state = StateConnecting
	inst.mu.Unlock()

	conn, err := net.DialTCP("tcp", nil, cfg.HostAddr)
	if err != nil {
		inst.mu.Lock()
		inst.state = StateConnectFailed
		inst.mu.Unlock()
		return handle, errs.Wrap(errs.KindNoConnection, err, "dial host")
	}
	conn.SetLinger(0)

	// A listener of our own is bound before the handshake completes so
	// higher-numbered peers (including, eventually, ourselves once
	// someone else joins) have somewhere to dial for full-mesh
	// promotion (spec.md §4.5.4).
	peerLis, err := net.ListenTCP("tcp", &net.TCPAddr{Port: 0})
	if err != nil {
		conn.Close()
		inst.mu.Lock()
		inst.state = StateConnectFailed
		inst.mu.Unlock()
		return handle, errs.Wrap(errs.KindGeneric, err, "bind peer listener")
	}
	myListenPort := uint16(peerLis.Addr().(*net.TCPAddr).Port)

	inst.mu.Lock()
	inst.tcpListener = peerLis
	inst.mu.Unlock()
	go inst.acceptLoop(peerLis)

	pc := newPeerConn(conn, ConnRequestingHost)

	ser := packet.NewSerializer(uint32(wire.MsgConnectHost))
	ser.AppendNull()
	ser.AppendGUID([16]byte(cfg.ApplicationGUID))
	if cfg.Password == "" {
		ser.AppendNull()
	} else {
		ser.AppendWString(cfg.Password)
	}
	if cfg.UserConnectData == nil {
		ser.AppendNull()
	} else {
		ser.AppendData(cfg.UserConnectData)
	}
	ser.AppendWString(cfg.PlayerName)
	ser.AppendData(cfg.PlayerData)
	ser.AppendDWord(uint32(myListenPort))

	if _, err := conn.Write(ser.Bytes()); err != nil {
		conn.Close()
		inst.failConnect(handle)
		return handle, errs.Wrap(errs.KindConnectionLost, err, "send CONNECT_HOST")
	}

	buf := make([]byte, 65536)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		inst.failConnect(handle)
		return handle, errs.Wrap(errs.KindConnectionLost, err, "read CONNECT_HOST reply")
	}

	des, _, err := packet.Deserialize(buf[:n])
	if err != nil {
		conn.Close()
		inst.failConnect(handle)
		return handle, errs.Wrap(errs.KindGeneric, err, "decode CONNECT_HOST reply")
	}

	switch wire.MsgID(des.PacketType()) {
	case wire.MsgConnectHostFail:
		code, _ := des.GetDWord(wire.ConnectHostFailReplyCode)
		replyData, _ := des.GetData(wire.ConnectHostFailReplyData)
		conn.Close()
		inst.failConnect(handle)

		result := errs.New(errs.ErrorKind(code), "host rejected connection")
		inst.mu.Lock()
		inst.dispatch(&Event{Type: EventConnectComplete, AsyncHandle: handle, Result: result, Buffer: replyData})
		inst.mu.Unlock()

		return handle, result

	case wire.MsgConnectHostOK:
		assigned, _ := des.GetDWord(wire.ConnectHostOKAssignedPlayerID)
		hostPlayer, _ := des.GetDWord(wire.ConnectHostOKHostPlayerID)
		peerListBuf, _ := des.GetData(wire.ConnectHostOKPeerList)
		appDesc, _ := des.GetData(wire.ConnectHostOKAppDesc)
		hostName, _ := des.GetWString(wire.ConnectHostOKHostPlayerName)
		hostData, _ := des.GetData(wire.ConnectHostOKHostPlayerData)
		groupSnapBuf, _ := des.GetData(wire.ConnectHostOKGroupSnapshot)

		peerList, _ := wire.DecodePeerList(peerListBuf)
		groupIDs, _ := wire.DecodeGroupSnapshot(groupSnapBuf)

		pc.playerID = PlayerID(hostPlayer)
		pc.name = hostName
		pc.data = hostData
		remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		pc.ip = remoteIP
		pc.setState(ConnConnected)

		inst.mu.Lock()
		inst.localPlayerID = PlayerID(assigned)
		inst.hostPlayerID = PlayerID(hostPlayer)
		inst.peers[pc.playerID] = pc
		inst.state = StateConnected
		inst.parseAppDescInto(appDesc)

		// The joiner's own CREATE_PLAYER must precede every other
		// membership event it observes (spec.md §8's "CREATE_PLAYER(P)
		// precedes any other event naming P" and scenario 3's literal
		// client-side ordering).
		inst.dispatch(&Event{Type: EventCreatePlayer, Player: inst.localPlayerID, Local: true})
		inst.dispatch(&Event{Type: EventCreatePlayer, Player: inst.hostPlayerID, Local: false})

		// Replay the host's own pre-existing group memberships before
		// CONNECT_COMPLETE fires; membership in groups whose only
		// members are other peers arrives once those peers are
		// mesh-connected below (spec.md §4.5.7).
		for _, id := range groupIDs {
			g := inst.groupOrCreate(GroupID(id))
			if g != nil {
				g.join(inst.hostPlayerID)
				inst.dispatch(&Event{Type: EventAddPlayerToGroup, Group: GroupID(id), Player: inst.hostPlayerID})
			}
		}
		inst.mu.Unlock()

		go inst.readLoop(pc)

		// spec.md §4.5.2 step 5: CONNECT_COMPLETE(OK, ...) is not delivered
		// until every pre-existing peer has been mesh-dialed, so the
		// application never observes "connected" before the mesh it was
		// handed is actually up.
		var meshWG sync.WaitGroup
		for _, desc := range peerList {
			meshWG.Add(1)
			go func(d wire.PeerDescriptor) {
				defer meshWG.Done()
				inst.connectToPeer(d)
			}(desc)
		}
		meshWG.Wait()

		inst.mu.Lock()
		inst.dispatch(&Event{Type: EventConnectComplete, AsyncHandle: handle, Result: nil})
		inst.mu.Unlock()

		return handle, nil

	default:
		conn.Close()
		inst.failConnect(handle)
		return handle, errs.New(errs.KindGeneric, "unexpected reply to CONNECT_HOST")
	}
}

func (inst *Instance) failConnect(handle uint32) {
	inst.mu.Lock()
	inst.state = StateConnectFailed
	if inst.tcpListener != nil {
		inst.tcpListener.Close()
		inst.tcpListener = nil
	}
	inst.mu.Unlock()
}

// parseAppDescInto decodes a serialized MSGID_APPDESC payload into
// inst.applicationDesc. Caller must hold inst.mu.
func (inst *Instance) parseAppDescInto(buf []byte) {
	des, _, err := packet.Deserialize(buf)
	if err != nil {
		return
	}
	maxPlayers, _ := des.GetDWord(wire.AppDescMaxPlayers)
	sessionName, _ := des.GetWString(wire.AppDescSessionName)
	password, _ := des.GetWString(wire.AppDescPassword)
	appData, _ := des.GetData(wire.AppDescAppData)

	inst.applicationDesc.MaxPlayers = maxPlayers
	inst.applicationDesc.SessionName = sessionName
	inst.applicationDesc.Password = password
	inst.applicationDesc.ReservedData = appData
}
