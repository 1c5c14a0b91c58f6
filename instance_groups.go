package dpnetpeer

import (
	"github.com/dpnetpeer/dpnetpeer/errs"
	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
)

// CreateGroup allocates a new group identifier and broadcasts its
// creation to every connected peer (spec.md §4.5.7). A non-host asks
// the host for an id via GROUP_ALLOCATE first; the host allocates
// directly since it owns the identifier space.
func (inst *Instance) CreateGroup(name string, data []byte, context interface{}) (GroupID, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	var id GroupID
	if inst.state == StateHosting {
		id = inst.nextGroup()
	} else {
		allocated, err := inst.requestGroupAllocate()
		if err != nil {
			return 0, err
		}
		id = allocated
	}

	g := newGroup(id, name, data)
	g.context = context
	inst.groups[id] = g

	inst.broadcastGroupCreate(id, name, data)
	inst.dispatch(&Event{Type: EventCreateGroup, Group: id, GroupContext: context})

	return id, nil
}

// requestGroupAllocate asks the host for a fresh group id via
// GROUP_ALLOCATE/ACK. Caller must hold inst.mu.
func (inst *Instance) requestGroupAllocate() (GroupID, error) {
	host, ok := inst.peers[inst.hostPlayerID]
	if !ok {
		return 0, errs.New(errs.KindNoConnection, "no connection to host for group allocation")
	}

	result := make(chan struct {
		id  GroupID
		err error
	}, 1)

	ackID := host.allocAckID(func(value uint32, err error) {
		result <- struct {
			id  GroupID
			err error
		}{GroupID(value), err}
	})

	ser := packet.NewSerializer(uint32(wire.MsgGroupAllocate))
	ser.AppendDWord(ackID)
	inst.mu.Unlock()
	_, werr := host.conn.Write(ser.Bytes())
	inst.mu.Lock()
	if werr != nil {
		return 0, errs.Wrap(errs.KindConnectionLost, werr, "send GROUP_ALLOCATE")
	}

	r := <-result
	return r.id, r.err
}

func (inst *Instance) broadcastGroupCreate(id GroupID, name string, data []byte) {
	ser := packet.NewSerializer(uint32(wire.MsgGroupCreate))
	ser.AppendDWord(uint32(id))
	ser.AppendWString(name)
	ser.AppendData(data)
	buf := ser.Bytes()
	for _, pc := range inst.peers {
		pc.conn.Write(buf)
	}
}

// DestroyGroup broadcasts GROUP_DESTROY and retires id permanently: it
// must never be re-instantiated in this session even by a late inbound
// message referencing it (spec.md §4.5.7, §3).
func (inst *Instance) DestroyGroup(id GroupID) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if _, ok := inst.groups[id]; !ok {
		return errs.New(errs.KindDoesNotExist, "no such group")
	}

	delete(inst.groups, id)
	inst.destroyedGroups[id] = true

	ser := packet.NewSerializer(uint32(wire.MsgGroupDestroy))
	ser.AppendDWord(uint32(id))
	buf := ser.Bytes()
	for _, pc := range inst.peers {
		pc.conn.Write(buf)
	}

	inst.dispatch(&Event{Type: EventDestroyGroup, Group: id})
	return nil
}

// AddPlayerToGroup sends GROUP_JOIN to target and waits for its ACK.
// Membership changes are serialised by the target player to avoid
// add/remove races (spec.md §4.5.7): the target raises
// ADD_PLAYER_TO_GROUP locally, broadcasts GROUP_JOINED, then acks back
// to the caller.
func (inst *Instance) AddPlayerToGroup(group GroupID, player PlayerID, name string, data []byte) error {
	inst.mu.Lock()
	g, ok := inst.groups[group]
	if !ok {
		inst.mu.Unlock()
		return errs.New(errs.KindDoesNotExist, "no such group")
	}

	if player == inst.localPlayerID {
		g.join(player)
		inst.dispatch(&Event{Type: EventAddPlayerToGroup, Group: group, Player: player})
		inst.broadcastGroupJoined(group, name, data)
		inst.mu.Unlock()
		return nil
	}

	pc, ok := inst.peers[player]
	if !ok {
		inst.mu.Unlock()
		return errs.New(errs.KindNoConnection, "target player not connected")
	}

	result := make(chan error, 1)
	ackID := pc.allocAckID(func(_ uint32, err error) { result <- err })

	ser := packet.NewSerializer(uint32(wire.MsgGroupJoin))
	ser.AppendDWord(uint32(group))
	ser.AppendDWord(ackID)
	ser.AppendWString(name)
	ser.AppendData(data)
	buf := ser.Bytes()

	inst.mu.Unlock()
	_, err := pc.conn.Write(buf)
	if err != nil {
		return errs.Wrap(errs.KindConnectionLost, err, "send GROUP_JOIN")
	}

	return <-result
}

// RemovePlayerFromGroup is the symmetric counterpart of
// AddPlayerToGroup (spec.md §4.5.7).
func (inst *Instance) RemovePlayerFromGroup(group GroupID, player PlayerID) error {
	inst.mu.Lock()
	g, ok := inst.groups[group]
	if !ok {
		inst.mu.Unlock()
		return errs.New(errs.KindDoesNotExist, "no such group")
	}

	if player == inst.localPlayerID {
		g.leave(player)
		inst.dispatch(&Event{Type: EventRemovePlayerFromGroup, Group: group, Player: player})
		inst.broadcastGroupLeft(group)
		inst.mu.Unlock()
		return nil
	}

	pc, ok := inst.peers[player]
	if !ok {
		inst.mu.Unlock()
		return errs.New(errs.KindNoConnection, "target player not connected")
	}

	result := make(chan error, 1)
	ackID := pc.allocAckID(func(_ uint32, err error) { result <- err })

	ser := packet.NewSerializer(uint32(wire.MsgGroupLeave))
	ser.AppendDWord(uint32(group))
	ser.AppendDWord(ackID)
	buf := ser.Bytes()

	inst.mu.Unlock()
	_, err := pc.conn.Write(buf)
	if err != nil {
		return errs.Wrap(errs.KindConnectionLost, err, "send GROUP_LEAVE")
	}

	return <-result
}

func (inst *Instance) broadcastGroupJoined(id GroupID, name string, data []byte) {
	ser := packet.NewSerializer(uint32(wire.MsgGroupJoined))
	ser.AppendDWord(uint32(id))
	ser.AppendWString(name)
	ser.AppendData(data)
	buf := ser.Bytes()
	for _, pc := range inst.peers {
		pc.conn.Write(buf)
	}
}

func (inst *Instance) broadcastGroupLeft(id GroupID) {
	ser := packet.NewSerializer(uint32(wire.MsgGroupLeft))
	ser.AppendDWord(uint32(id))
	buf := ser.Bytes()
	for _, pc := range inst.peers {
		pc.conn.Write(buf)
	}
}

// groupOrCreate returns the group for id, instantiating it on the fly
// if unknown and not previously destroyed. This resolves the race
// where a GROUP_CREATE broadcast hasn't yet arrived when a
// GROUP_JOIN/GROUP_JOINED for that group shows up (spec.md §4.5.7).
// Caller must hold inst.mu.
func (inst *Instance) groupOrCreate(id GroupID) *group {
	if g, ok := inst.groups[id]; ok {
		return g
	}
	if inst.destroyedGroups[id] {
		return nil
	}
	g := newGroup(id, "", nil)
	inst.groups[id] = g
	return g
}

func (inst *Instance) handleGroupJoin(pc *peerConn, des *packet.Deserializer) {
	id, err := des.GetDWord(wire.GroupJoinGroupID)
	if err != nil {
		return
	}
	ackID, _ := des.GetDWord(wire.GroupJoinAckID)
	name, _ := des.GetWString(wire.GroupJoinName)
	data, _ := des.GetData(wire.GroupJoinData)

	inst.mu.Lock()
	g := inst.groupOrCreate(GroupID(id))
	if g != nil {
		g.join(pc.playerID)
		inst.dispatch(&Event{Type: EventAddPlayerToGroup, Group: GroupID(id), Player: pc.playerID})
		inst.broadcastGroupJoined(GroupID(id), name, data)
	}
	inst.mu.Unlock()

	inst.sendAck(pc, ackID, 0, nil)
}

func (inst *Instance) handleGroupLeave(pc *peerConn, des *packet.Deserializer) {
	id, err := des.GetDWord(wire.GroupLeaveGroupID)
	if err != nil {
		return
	}
	ackID, _ := des.GetDWord(wire.GroupLeaveAckID)

	inst.mu.Lock()
	if g, ok := inst.groups[GroupID(id)]; ok {
		g.leave(pc.playerID)
		inst.dispatch(&Event{Type: EventRemovePlayerFromGroup, Group: GroupID(id), Player: pc.playerID})
		inst.broadcastGroupLeft(GroupID(id))
	}
	inst.mu.Unlock()

	inst.sendAck(pc, ackID, 0, nil)
}

func (inst *Instance) handleGroupJoined(des *packet.Deserializer) {
	id, err := des.GetDWord(wire.GroupJoinedGroupID)
	if err != nil {
		return
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	g := inst.groupOrCreate(GroupID(id))
	if g == nil {
		return
	}
	inst.dispatch(&Event{Type: EventAddPlayerToGroup, Group: GroupID(id)})
}

func (inst *Instance) handleGroupLeft(des *packet.Deserializer) {
	id, err := des.GetDWord(wire.GroupLeftGroupID)
	if err != nil {
		return
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if g, ok := inst.groups[GroupID(id)]; ok {
		_ = g
		inst.dispatch(&Event{Type: EventRemovePlayerFromGroup, Group: GroupID(id)})
	}
}

func (inst *Instance) handleGroupCreate(des *packet.Deserializer) {
	id, err := des.GetDWord(wire.GroupCreateID)
	if err != nil {
		return
	}
	name, _ := des.GetWString(wire.GroupCreateName)
	data, _ := des.GetData(wire.GroupCreateData)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if _, ok := inst.groups[GroupID(id)]; ok || inst.destroyedGroups[GroupID(id)] {
		return
	}
	inst.groups[GroupID(id)] = newGroup(GroupID(id), name, data)
	inst.dispatch(&Event{Type: EventCreateGroup, Group: GroupID(id)})
}

func (inst *Instance) handleGroupInfo(des *packet.Deserializer) {
	id, err := des.GetDWord(wire.GroupInfoGroupID)
	if err != nil {
		return
	}
	name, _ := des.GetWString(wire.GroupInfoName)
	data, _ := des.GetData(wire.GroupInfoData)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	g, ok := inst.groups[GroupID(id)]
	if !ok {
		return
	}
	g.setInfo(name, data)
	inst.dispatch(&Event{Type: EventGroupInfo, Group: GroupID(id)})
}

func (inst *Instance) handleGroupDestroy(des *packet.Deserializer) {
	id, err := des.GetDWord(wire.GroupDestroyID)
	if err != nil {
		return
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	delete(inst.groups, GroupID(id))
	inst.destroyedGroups[GroupID(id)] = true
	inst.dispatch(&Event{Type: EventDestroyGroup, Group: GroupID(id)})
}
