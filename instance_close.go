package dpnetpeer

import (
	"github.com/dpnetpeer/dpnetpeer/errs"
	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
	"github.com/dpnetpeer/dpnetpeer/sendqueue"
)

// Close transitions the instance to CLOSING (spec.md §4.5.8). A
// non-immediate close flushes guaranteed sends before closing TCP
// sockets; an immediate close aborts outstanding sends with
// USER_CANCEL. DESTROY_PLAYER(local, NORMAL) is raised locally after
// peer notifications have gone out.
func (inst *Instance) Close(immediate bool) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state == StateClosing {
		return nil
	}
	inst.state = StateClosing

	for _, pc := range inst.peers {
		if immediate {
			for _, op := range pc.queue.DrainAll() {
				op.Complete(sendqueue.ResultCancelled)
			}
			pc.failAllPending(errs.New(errs.KindUserCancel, "instance closing"))
		}
		pc.close()
	}

	if inst.tcpListener != nil {
		inst.tcpListener.Close()
	}
	if inst.udpConn != nil {
		inst.udpConn.Close()
	}
	if inst.discoveryConn != nil {
		inst.discoveryConn.Close()
	}
	if inst.pool != nil {
		inst.pool.Close()
	}

	inst.removePlayerFromAllGroups(inst.localPlayerID)
	inst.dispatch(&Event{Type: EventDestroyPlayer, Player: inst.localPlayerID, Local: true})

	inst.peers = make(map[PlayerID]*peerConn)
	inst.closed = true

	return nil
}

// DestroyPeer (host only) sends DESTROY_PEER to victim and broadcasts
// the notification (without the destroy payload) to every other peer
// (spec.md §4.5.8).
func (inst *Instance) DestroyPeer(victim PlayerID, destroyData []byte) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != StateHosting {
		return errs.New(errs.KindNotHost, "DestroyPeer requires the HOSTING state")
	}

	pc, ok := inst.peers[victim]
	if !ok {
		return errs.New(errs.KindDoesNotExist, "no such player")
	}

	ser := packet.NewSerializer(uint32(wire.MsgDestroyPeer))
	ser.AppendDWord(uint32(victim))
	ser.AppendData(destroyData)
	pc.conn.Write(ser.Bytes())
	pc.close()

	notice := packet.NewSerializer(uint32(wire.MsgDestroyPeer))
	notice.AppendDWord(uint32(victim))
	notice.AppendData(nil)
	buf := notice.Bytes()
	for id, other := range inst.peers {
		if id == victim {
			continue
		}
		other.conn.Write(buf)
	}

	inst.removePlayerFromAllGroups(victim)
	inst.dispatch(&Event{Type: EventDestroyPlayer, Player: victim})
	delete(inst.peers, victim)

	return nil
}

// TerminateSession (host only) broadcasts TERMINATE_SESSION to every
// peer. Further calls on an already-terminated instance raise no
// additional events (spec.md §4.5.8).
func (inst *Instance) TerminateSession(data []byte) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != StateHosting {
		return errs.New(errs.KindNotHost, "TerminateSession requires the HOSTING state")
	}
	if inst.closed {
		return nil
	}

	ser := packet.NewSerializer(uint32(wire.MsgTerminateSession))
	ser.AppendData(data)
	buf := ser.Bytes()
	for _, pc := range inst.peers {
		pc.conn.Write(buf)
		pc.close()
	}

	for id := range inst.peers {
		inst.removePlayerFromAllGroups(id)
		inst.dispatch(&Event{Type: EventDestroyPlayer, Player: id})
	}
	inst.peers = make(map[PlayerID]*peerConn)
	inst.closed = true

	return nil
}

// CancelAsyncOperation cancels exactly one operation by handle when
// handle != 0, or every matching non-internal operation under a class
// mask when handle == 0 (spec.md §5). Matching queued sends complete
// with USER_CANCEL; in-flight sends cannot be cancelled mid-flight.
func (inst *Instance) CancelAsyncOperation(handle uint32, class AsyncClass) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	for _, pc := range inst.peers {
		if handle != 0 {
			if pc.queue.HandleIsPending(handle) {
				continue
			}
			if op := pc.queue.RemoveQueuedByHandle(handle); op != nil {
				op.Complete(sendqueue.ResultCancelled)
				return nil
			}
			continue
		}

		var keep []*sendqueue.Op
		for {
			op := pc.queue.RemoveQueued()
			if op == nil {
				break
			}
			if ClassOf(op.AsyncHandle) != class {
				keep = append(keep, op)
				continue
			}
			op.Complete(sendqueue.ResultCancelled)
		}
		for _, op := range keep {
			pc.queue.Send(sendqueue.PriorityMedium, op)
		}
	}

	if handle != 0 {
		return errs.New(errs.KindDoesNotExist, "no outstanding operation with that handle")
	}
	return nil
}
