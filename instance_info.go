package dpnetpeer

import (
	"sync"

	"github.com/dpnetpeer/dpnetpeer/errs"
	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
)

// SetPeerInfo publishes a new name/data for the local player. Before
// membership it is purely local; once CONNECTED it broadcasts
// MSGID_PLAYERINFO and waits for every peer's ack before completing
// (spec.md §4.5.6).
func (inst *Instance) SetPeerInfo(name string, data []byte) error {
	inst.mu.Lock()

	inst.localName = name
	inst.localData = data

	if inst.state != StateConnected && inst.state != StateHosting {
		inst.dispatch(&Event{Type: EventPeerInfo, Player: inst.localPlayerID, Local: true})
		inst.mu.Unlock()
		return nil
	}

	peers := make([]*peerConn, 0, len(inst.peers))
	for _, pc := range inst.peers {
		peers = append(peers, pc)
	}
	inst.dispatch(&Event{Type: EventPeerInfo, Player: inst.localPlayerID, Local: true})
	inst.mu.Unlock()

	if len(peers) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(peers))

	for _, pc := range peers {
		wg.Add(1)
		go func(pc *peerConn) {
			defer wg.Done()

			ackCh := make(chan error, 1)
			ackID := pc.allocAckID(func(_ uint32, err error) { ackCh <- err })

			ser := packet.NewSerializer(uint32(wire.MsgPlayerInfo))
			ser.AppendDWord(uint32(inst.localPlayerID))
			ser.AppendWString(name)
			ser.AppendData(data)
			ser.AppendDWord(ackID)

			if _, err := pc.conn.Write(ser.Bytes()); err != nil {
				pc.resolveAck(ackID, 0, errs.Wrap(errs.KindConnectionLost, err, "send PLAYERINFO"))
			}

			errCh <- <-ackCh
		}(pc)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// SetApplicationDesc updates the host's canonical application
// description and broadcasts it (host only). It rejects a max_players
// below the current population (spec.md §4.5.6).
func (inst *Instance) SetApplicationDesc(desc ApplicationDesc) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != StateHosting {
		return errs.New(errs.KindNotHost, "SetApplicationDesc requires the HOSTING state")
	}

	if desc.MaxPlayers != 0 && desc.MaxPlayers < uint32(len(inst.peers)+1) {
		return errs.New(errs.KindInvalidParam, "max_players below current population")
	}

	inst.applicationDesc.MaxPlayers = desc.MaxPlayers
	inst.applicationDesc.SessionName = desc.SessionName
	inst.applicationDesc.Password = desc.Password
	inst.applicationDesc.ReservedData = desc.ReservedData

	buf := inst.applicationDescBytes()
	for _, pc := range inst.peers {
		pc.conn.Write(buf)
	}

	inst.dispatch(&Event{Type: EventApplicationDesc})
	return nil
}

// GetApplicationDesc returns the locally-known application description
// (the canonical copy on the host, the replica elsewhere).
func (inst *Instance) GetApplicationDesc() ApplicationDesc {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.applicationDesc
}

// PeerInfo describes one connected participant for
// EnumPlayersAndGroups-style reporting.
type PeerInfo struct {
	Player PlayerID
	Name   string
	Data   []byte
	State  ConnState
}

// EnumPlayersAndGroups returns a snapshot of the instance's current
// players and group identifiers.
func (inst *Instance) EnumPlayersAndGroups() ([]PeerInfo, []GroupID) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	players := make([]PeerInfo, 0, len(inst.peers)+1)
	players = append(players, PeerInfo{Player: inst.localPlayerID, Name: inst.localName, Data: inst.localData, State: ConnConnected})
	for id, pc := range inst.peers {
		players = append(players, PeerInfo{Player: id, Name: pc.name, Data: pc.data, State: pc.getState()})
	}

	groups := make([]GroupID, 0, len(inst.groups))
	for id := range inst.groups {
		groups = append(groups, id)
	}

	return players, groups
}

// EnumGroupMembers returns a snapshot of group's current membership.
func (inst *Instance) EnumGroupMembers(id GroupID) ([]PlayerID, error) {
	inst.mu.Lock()
	g, ok := inst.groups[id]
	inst.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.KindDoesNotExist, "no such group")
	}
	return g.memberList(), nil
}

// GetPeerAddress returns the remote address of player's TCP
// connection.
func (inst *Instance) GetPeerAddress(player PlayerID) (string, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	pc, ok := inst.peers[player]
	if !ok {
		return "", errs.New(errs.KindDoesNotExist, "no such player")
	}
	return pc.conn.RemoteAddr().String(), nil
}

// GetLocalHostAddresses returns the local TCP listen address while
// HOSTING.
func (inst *Instance) GetLocalHostAddresses() ([]string, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != StateHosting || inst.tcpListener == nil {
		return nil, errs.New(errs.KindNotInitialised, "instance is not hosting")
	}
	return []string{inst.tcpListener.Addr().String()}, nil
}

// GetSendQueueInfo reports the number of queued (non-in-flight) sends
// for player's connection.
func (inst *Instance) GetSendQueueInfo(player PlayerID) (int, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	pc, ok := inst.peers[player]
	if !ok {
		return 0, errs.New(errs.KindDoesNotExist, "no such player")
	}
	return pc.queue.Len(), nil
}

// GetPeerInfo returns player's last-known name and data, the local
// player's own included (spec.md §4.5.6).
func (inst *Instance) GetPeerInfo(player PlayerID) (string, []byte, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if player == inst.localPlayerID {
		return inst.localName, inst.localData, nil
	}
	pc, ok := inst.peers[player]
	if !ok {
		return "", nil, errs.New(errs.KindDoesNotExist, "no such player")
	}
	return pc.name, pc.data, nil
}

// GetPlayerContext returns the per-object context slot dispatch()
// prefills into every event naming player (spec.md §4.7).
func (inst *Instance) GetPlayerContext(player PlayerID) (interface{}, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if player == inst.localPlayerID {
		return inst.localContext, nil
	}
	pc, ok := inst.peers[player]
	if !ok {
		return nil, errs.New(errs.KindDoesNotExist, "no such player")
	}
	return pc.context, nil
}

// GetGroupContext returns a group's per-object context slot (spec.md
// §4.7).
func (inst *Instance) GetGroupContext(id GroupID) (interface{}, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	g, ok := inst.groups[id]
	if !ok {
		return nil, errs.New(errs.KindDoesNotExist, "no such group")
	}
	return g.context, nil
}

// SetGroupInfo updates a group's name/data and broadcasts the change to
// every connected peer (spec.md §4.5.7).
func (inst *Instance) SetGroupInfo(id GroupID, name string, data []byte) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	g, ok := inst.groups[id]
	if !ok {
		return errs.New(errs.KindDoesNotExist, "no such group")
	}
	g.setInfo(name, data)

	ser := packet.NewSerializer(uint32(wire.MsgGroupInfo))
	ser.AppendDWord(uint32(id))
	ser.AppendWString(name)
	ser.AppendData(data)
	buf := ser.Bytes()
	for _, pc := range inst.peers {
		pc.conn.Write(buf)
	}

	inst.dispatch(&Event{Type: EventGroupInfo, Group: id})
	return nil
}

// GetGroupInfo returns a group's current name/data (spec.md §4.5.7).
func (inst *Instance) GetGroupInfo(id GroupID) (string, []byte, error) {
	inst.mu.Lock()
	g, ok := inst.groups[id]
	inst.mu.Unlock()
	if !ok {
		return "", nil, errs.New(errs.KindDoesNotExist, "no such group")
	}
	name, data := g.info()
	return name, data, nil
}

// ReturnBuffer releases a buffer an application previously retained via
// Event.RetainBuffer (spec.md §4.7 RETURN_BUFFER).
func (inst *Instance) ReturnBuffer(handle uint32) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if _, ok := inst.retainedBuffers[handle]; !ok {
		return errs.New(errs.KindDoesNotExist, "no such retained buffer")
	}
	delete(inst.retainedBuffers, handle)
	return nil
}
