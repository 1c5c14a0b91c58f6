package dpnetpeer

import (
	"github.com/dpnetpeer/dpnetpeer/errs"
	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
)

// readLoop accumulates bytes from pc's socket into its receive buffer
// and dispatches each complete packet, matching peerConn's "receive
// buffer accumulating a single in-progress packet" field (spec.md §3).
// Packet.Deserialize reports how many bytes it consumed so the
// remainder can be kept for the next read, exactly the framing trick
// its doc comment describes for stream transports.
func (inst *Instance) readLoop(pc *peerConn) {
	buf := make([]byte, 65536)

	for {
		n, err := pc.conn.Read(buf)
		if err != nil {
			inst.destroyPeer(pc, errs.KindConnectionLost)
			return
		}

		pc.recvBuf = append(pc.recvBuf, buf[:n]...)

		for {
			des, consumed, err := packet.Deserialize(pc.recvBuf)
			if err != nil {
				break
			}
			pc.recvBuf = pc.recvBuf[consumed:]
			inst.metrics.packetsReceived.Inc()
			inst.handlePeerPacket(pc, des)
		}
	}
}

func (inst *Instance) handlePeerPacket(pc *peerConn, des *packet.Deserializer) {
	switch wire.MsgID(des.PacketType()) {
	case wire.MsgMessage:
		payload, err := des.GetData(wire.MessagePayload)
		if err != nil {
			return
		}
		senderID, _ := des.GetDWord(wire.MessageSenderID)
		targetID, _ := des.GetDWord(wire.MessageTargetID)
		flags, _ := des.GetDWord(wire.MessageSendFlags)

		inst.mu.Lock()
		if PlayerID(targetID) == inst.localPlayerID {
			inst.dispatch(&Event{Type: EventReceive, Player: PlayerID(senderID), Sender: PlayerID(senderID), Data: payload})
			inst.mu.Unlock()
			return
		}
		// Not addressed to us: relay one hop on, which only ever
		// happens while HOSTING, since a non-host peer is never the
		// target of someone else's relayed send (spec.md §4.5.5).
		next, ok := inst.peers[PlayerID(targetID)]
		inst.mu.Unlock()
		if !ok {
			return
		}
		fwd := packet.NewSerializer(uint32(wire.MsgMessage))
		fwd.AppendDWord(senderID)
		fwd.AppendData(payload)
		fwd.AppendDWord(flags)
		fwd.AppendDWord(targetID)
		next.conn.Write(fwd.Bytes())

	case wire.MsgAck:
		ackID, err := des.GetDWord(wire.AckID)
		if err != nil {
			return
		}
		resultCode, _ := des.GetDWord(wire.AckResult)
		value, _ := des.GetDWord(wire.AckValue)
		var result error
		if resultCode != 0 {
			result = errs.New(errs.ErrorKind(resultCode), "remote ack reported failure")
		}
		pc.resolveAck(ackID, value, result)

	case wire.MsgPlayerInfo:
		name, _ := des.GetWString(wire.PlayerInfoName)
		data, _ := des.GetData(wire.PlayerInfoData)
		ackID, _ := des.GetDWord(wire.PlayerInfoAckID)

		inst.mu.Lock()
		pc.name = name
		pc.data = data
		inst.dispatch(&Event{Type: EventPeerInfo, Player: pc.playerID})
		inst.mu.Unlock()

		inst.sendAck(pc, ackID, 0, nil)

	case wire.MsgGroupAllocate:
		inst.handleGroupAllocate(pc, des)

	case wire.MsgNewPeer:
		inst.handleNewPeer(des)

	case wire.MsgAppDesc:
		maxPlayers, _ := des.GetDWord(wire.AppDescMaxPlayers)
		sessionName, _ := des.GetWString(wire.AppDescSessionName)
		password, _ := des.GetWString(wire.AppDescPassword)
		appData, _ := des.GetData(wire.AppDescAppData)

		inst.mu.Lock()
		inst.applicationDesc.MaxPlayers = maxPlayers
		inst.applicationDesc.SessionName = sessionName
		inst.applicationDesc.Password = password
		inst.applicationDesc.ReservedData = appData
		inst.dispatch(&Event{Type: EventApplicationDesc})
		inst.mu.Unlock()

	case wire.MsgDestroyPeer:
		destroyData, _ := des.GetData(wire.DestroyPeerDestroyData)
		inst.mu.Lock()
		inst.dispatch(&Event{Type: EventTerminateSession, Buffer: destroyData})
		inst.mu.Unlock()
		inst.destroyPeer(pc, errs.KindGeneric)

	case wire.MsgTerminateSession:
		data, _ := des.GetData(wire.TerminateSessionData)
		inst.mu.Lock()
		inst.dispatch(&Event{Type: EventTerminateSession, Buffer: data})
		inst.mu.Unlock()

	case wire.MsgGroupJoin:
		inst.handleGroupJoin(pc, des)

	case wire.MsgGroupLeave:
		inst.handleGroupLeave(pc, des)

	case wire.MsgGroupJoined:
		inst.handleGroupJoined(des)

	case wire.MsgGroupLeft:
		inst.handleGroupLeft(des)

	case wire.MsgGroupCreate:
		inst.handleGroupCreate(des)

	case wire.MsgGroupDestroy:
		inst.handleGroupDestroy(des)

	case wire.MsgGroupInfo:
		inst.handleGroupInfo(des)
	}
}

// sendAck replies to one pending ack_id. Acks are small, internal,
// and unordered with respect to the application-facing send queue, so
// they go straight to the socket rather than through pc.queue. value
// is GROUP_ALLOCATE's assigned group id; every other ack sends 0.
func (inst *Instance) sendAck(pc *peerConn, ackID uint32, value uint32, result error) {
	ser := packet.NewSerializer(uint32(wire.MsgAck))
	ser.AppendDWord(ackID)
	if result == nil {
		ser.AppendDWord(0)
	} else {
		ser.AppendDWord(uint32(KindOf(result)))
	}
	ser.AppendDWord(value)
	pc.conn.Write(ser.Bytes())
}

// handleGroupAllocate answers a non-host peer's request for a fresh
// group id (spec.md §4.5.7): only the host owns the identifier space,
// so this is only ever reached while HOSTING.
func (inst *Instance) handleGroupAllocate(pc *peerConn, des *packet.Deserializer) {
	ackID, err := des.GetDWord(wire.GroupAllocateAckID)
	if err != nil {
		return
	}

	inst.mu.Lock()
	if inst.state != StateHosting {
		inst.mu.Unlock()
		inst.sendAck(pc, ackID, 0, errs.New(errs.KindNotHost, "not hosting"))
		return
	}
	id := inst.nextGroup()
	inst.mu.Unlock()

	inst.sendAck(pc, ackID, uint32(id), nil)
}

// handleNewPeer passes the host's fan-out notice of a newly-joined
// player's listen address to connectToPeer, which dials only when the
// local id is higher than the newcomer's. A newcomer always holds the
// highest id, so in practice this side waits to be dialed by it
// (spec.md §4.5.3/§4.5.4).
func (inst *Instance) handleNewPeer(des *packet.Deserializer) {
	id, err := des.GetDWord(wire.NewPeerPlayerID)
	if err != nil {
		return
	}
	ip, err := des.GetWString(wire.NewPeerIP)
	if err != nil {
		return
	}
	port, err := des.GetDWord(wire.NewPeerPort)
	if err != nil {
		return
	}

	inst.mu.Lock()
	_, already := inst.peers[PlayerID(id)]
	isSelf := PlayerID(id) == inst.localPlayerID
	inst.mu.Unlock()
	if already || isSelf {
		return
	}

	go inst.connectToPeer(wire.PeerDescriptor{PlayerID: id, IP: ip, TCPPort: uint16(port)})
}

// destroyPeer tears down pc: fails any sends still waiting on it,
// removes it from the instance's tables, and raises the
// REMOVE_PLAYER_FROM_GROUP / DESTROY_PLAYER fan-out required by
// spec.md §4.5.8 ("each DESTROY_PLAYER must be preceded by
// REMOVE_PLAYER_FROM_GROUP events for every group that player was a
// member of").
func (inst *Instance) destroyPeer(pc *peerConn, reason ErrorKind) {
	pc.close()
	pc.failAllPending(errs.New(reason, "peer connection destroyed"))

	inst.mu.Lock()
	defer inst.mu.Unlock()

	inst.removePlayerFromAllGroups(pc.playerID)
	inst.dispatch(&Event{Type: EventDestroyPlayer, Player: pc.playerID})
	delete(inst.peers, pc.playerID)
	inst.peerDestroyed.Broadcast()
}

// removePlayerFromAllGroups raises REMOVE_PLAYER_FROM_GROUP for every
// group player currently belongs to. spec.md §4.5.8 requires this
// fan-out precede DESTROY_PLAYER on every destruction path, not just
// the connection-lost one. Caller must hold inst.mu.
func (inst *Instance) removePlayerFromAllGroups(player PlayerID) {
	for _, g := range inst.groups {
		if g.has(player) {
			g.leave(player)
			inst.dispatch(&Event{Type: EventRemovePlayerFromGroup, Group: g.id, Player: player})
		}
	}
}
