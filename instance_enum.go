package dpnetpeer

import (
	"net"

	"github.com/google/uuid"

	"github.com/dpnetpeer/dpnetpeer/hostenum"
)

// EnumHosts discovers hosts advertising applicationGUID on dest (a
// broadcast address if the caller wants a local-segment probe, or a
// specific host's discovery address for a unicast probe). Each
// accepted reply is delivered as an ENUM_HOSTS_RESPONSE event; the
// call returns once the operation completes, is cancelled, or times
// out (spec.md §4.4).
func (inst *Instance) EnumHosts(dest *net.UDPAddr, applicationGUID uuid.UUID, userData []byte) (uint32, error) {
	inst.mu.Lock()
	handle := inst.handles.newEnum()
	inst.mu.Unlock()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return handle, err
	}
	defer conn.Close()

	e := hostenum.Start(conn, hostenum.Request{
		Dest:            dest,
		ApplicationGUID: applicationGUID,
		UserData:        userData,
	}, func(r hostenum.Response) {
		inst.mu.Lock()
		inst.dispatch(&Event{
			Type:        EventEnumHostsResponse,
			AsyncHandle: handle,
			FromAddr:    r.From,
			Buffer:      r.AppDesc,
			Data:        r.UserData,
		})
		inst.mu.Unlock()
	})

	err = e.Wait()

	inst.mu.Lock()
	inst.dispatch(&Event{Type: EventAsyncOpComplete, AsyncHandle: handle, Result: err})
	inst.mu.Unlock()

	return handle, err
}
