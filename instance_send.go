package dpnetpeer

import (
	"github.com/dpnetpeer/dpnetpeer/errs"
	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
	"github.com/dpnetpeer/dpnetpeer/sendqueue"
)

// AllPlayers is the distinguished player identifier meaning "every
// connected peer", matching DPNID_ALL_PLAYERS_GROUP (spec.md §4.5.5).
const AllPlayers PlayerID = 0xFFFFFFFF

// SendFlags modifies SendTo's delivery and completion semantics.
type SendFlags uint32

const (
	SendGuaranteed SendFlags = 1 << iota
	SendNoLoopback
	SendSync
)

// SendTo serializes MSGID_MESSAGE and enqueues it on each target's
// reliable send queue (spec.md §4.5.5). SendGuaranteed is accepted for
// API compatibility but every connection in this core is TCP, so
// delivery is always ordered and reliable regardless of the flag.
//
// Every concrete recipient gets its own copy of the message addressed
// with MessageTargetID set to that recipient's player id (not the
// caller's logical target, which may be AllPlayers or a group): this
// lets a host relay a message on to a player the sender hasn't yet
// mesh-connected to directly (spec.md §4.5.4's full-mesh promotion
// races against application sends), without the relay having to
// re-expand group/AllPlayers semantics itself.
func (inst *Instance) SendTo(target PlayerID, data []byte, flags SendFlags) (uint32, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	handle := inst.handles.newSend()

	var targets []PlayerID
	switch target {
	case AllPlayers:
		for id := range inst.peers {
			targets = append(targets, id)
		}
		if flags&SendNoLoopback == 0 {
			inst.dispatch(&Event{Type: EventReceive, Player: inst.localPlayerID, Sender: inst.localPlayerID, Local: true, Data: data})
		}
	case inst.localPlayerID:
		inst.dispatch(&Event{Type: EventReceive, Player: inst.localPlayerID, Sender: inst.localPlayerID, Local: true, Data: data})
		return handle, nil
	default:
		if g, ok := inst.groups[GroupID(target)]; ok {
			for _, p := range g.memberList() {
				if p == inst.localPlayerID {
					if flags&SendNoLoopback == 0 {
						inst.dispatch(&Event{Type: EventReceive, Player: inst.localPlayerID, Sender: inst.localPlayerID, Local: true, Data: data})
					}
					continue
				}
				targets = append(targets, p)
			}
		} else {
			targets = []PlayerID{target}
		}
	}

	remaining := len(targets)
	if remaining == 0 {
		return handle, nil
	}

	for _, id := range targets {
		pc, ok := inst.peers[id]
		if !ok && inst.state != StateHosting {
			// Not yet mesh-connected to id directly; fall back to
			// relaying the one hop through the host.
			pc, ok = inst.peers[inst.hostPlayerID]
		}
		if !ok {
			remaining--
			continue
		}

		ser := packet.NewSerializer(uint32(wire.MsgMessage))
		ser.AppendDWord(uint32(inst.localPlayerID))
		ser.AppendData(data)
		ser.AppendDWord(uint32(flags))
		ser.AppendDWord(uint32(id))
		payload := ser.Bytes()

		// Invoked with inst.mu held, as sendqueue.CompletionFunc documents.
		completion := func(result sendqueue.Result) {
			inst.dispatch(&Event{Type: EventSendComplete, AsyncHandle: handle, Result: sendResultErr(result)})
		}

		priority := sendqueue.PriorityMedium
		pc.queue.Send(priority, &sendqueue.Op{
			Data:        payload,
			AsyncHandle: handle,
			Completion:  completion,
		})

		go inst.pumpSend(pc)
	}

	inst.updateSendQueueDepthMetric()

	return handle, nil
}

// updateSendQueueDepthMetric recomputes the sendQueueDepth gauge as the
// sum of queued (non in-flight) sends across every connection. Caller
// must hold inst.mu.
func (inst *Instance) updateSendQueueDepthMetric() {
	total := 0
	for _, pc := range inst.peers {
		total += pc.queue.Len()
	}
	inst.metrics.sendQueueDepth.Set(float64(total))
}

// pumpSend drains one send from pc's queue with a blocking write on
// pc.conn; the I/O worker pool is not involved. It keeps the send
// queue's completion contract exact (exactly one completion per
// operation) and runs each completion with inst.mu held.
func (inst *Instance) pumpSend(pc *peerConn) {
	op := pc.queue.GetPending()
	if op == nil {
		return
	}

	n, err := pc.conn.Write(op.Data)
	if err != nil {
		pc.queue.PopPending(op)
		inst.mu.Lock()
		op.Complete(sendqueue.ResultConnectionLost)
		inst.mu.Unlock()
		return
	}

	if op.Advance(n) {
		pc.queue.PopPending(op)
		inst.metrics.packetsSent.Inc()
		inst.mu.Lock()
		op.Complete(sendqueue.ResultOK)
		inst.mu.Unlock()
	}
}

func sendResultErr(r sendqueue.Result) error {
	switch r {
	case sendqueue.ResultOK:
		return nil
	case sendqueue.ResultCancelled:
		return errs.New(errs.KindUserCancel, "send cancelled")
	case sendqueue.ResultConnectionLost:
		return errs.New(errs.KindConnectionLost, "connection lost during send")
	case sendqueue.ResultTimeout:
		return errs.New(errs.KindTimedOut, "send timed out")
	default:
		return errs.New(errs.KindGeneric, "unknown send result")
	}
}
