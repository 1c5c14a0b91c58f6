package dpnetpeer

import (
	"net"

	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
)

// connectToPeer dials desc directly as part of full-mesh promotion
// (spec.md §4.5.4): every peer ends up with a direct connection to
// every other peer rather than relaying everything through the host.
//
// Only the higher-numbered side of a pair ever dials: a freshly
// admitted player always gets the highest id yet allocated, so it is
// the one that dials out to the peer list CONNECT_HOST_OK hands it,
// and an already-connected peer receiving MSGID_NEWPEER about that
// newcomer does nothing, waiting to be dialed instead. That ordering
// is what spec.md §4.5.4's "keep the connection whose local player
// identifier is lower-numbered" tie-break amounts to once applied
// before either side attempts a connection: there is never a genuine
// pair of simultaneous dials left to resolve.
func (inst *Instance) connectToPeer(desc wire.PeerDescriptor) {
	inst.mu.Lock()
	localID := inst.localPlayerID
	_, already := inst.peers[PlayerID(desc.PlayerID)]
	instGUID := inst.instanceGUID
	appGUID := inst.applicationDesc.ApplicationGUID
	name := inst.localName
	data := inst.localData
	inst.mu.Unlock()

	if already || localID <= PlayerID(desc.PlayerID) {
		return
	}

	addr := &net.TCPAddr{IP: net.ParseIP(desc.IP), Port: int(desc.TCPPort)}
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		return
	}
	conn.SetLinger(0)

	ser := packet.NewSerializer(uint32(wire.MsgConnectPeer))
	ser.AppendGUID([16]byte(instGUID))
	ser.AppendGUID([16]byte(appGUID))
	ser.AppendNull() // password: peers are already admitted by the host, no re-auth
	ser.AppendDWord(uint32(localID))
	ser.AppendWString(name)
	ser.AppendData(data)
	if _, err := conn.Write(ser.Bytes()); err != nil {
		conn.Close()
		return
	}

	buf := make([]byte, 65536)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return
	}

	des, _, err := packet.Deserialize(buf[:n])
	if err != nil || wire.MsgID(des.PacketType()) != wire.MsgConnectPeerOK {
		conn.Close()
		return
	}

	peerName, _ := des.GetWString(wire.ConnectPeerOKPlayerName)
	peerData, _ := des.GetData(wire.ConnectPeerOKPlayerData)
	groupSnap, _ := des.GetData(wire.ConnectPeerOKGroupSnapshot)
	groupIDs, _ := wire.DecodeGroupSnapshot(groupSnap)

	pc := newPeerConn(conn, ConnConnected)
	pc.playerID = PlayerID(desc.PlayerID)
	pc.name = peerName
	pc.data = peerData
	pc.ip = desc.IP
	pc.listenPort = desc.TCPPort

	inst.mu.Lock()
	if _, dup := inst.peers[pc.playerID]; dup {
		inst.mu.Unlock()
		conn.Close()
		return
	}
	inst.peers[pc.playerID] = pc

	// CREATE_PLAYER(P) must precede any other event naming P (spec.md
	// §8), so it is raised before the group-membership replay below,
	// matching the equivalent replay in Connect()'s CONNECT_HOST_OK
	// handler.
	inst.dispatch(&Event{Type: EventCreatePlayer, Player: pc.playerID, Local: false})
	for _, id := range groupIDs {
		g := inst.groupOrCreate(GroupID(id))
		if g != nil {
			g.join(pc.playerID)
			inst.dispatch(&Event{Type: EventAddPlayerToGroup, Group: GroupID(id), Player: pc.playerID})
		}
	}
	inst.mu.Unlock()

	go inst.readLoop(pc)
}
