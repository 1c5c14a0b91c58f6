package hostenum

import (
	"net"

	"github.com/google/uuid"

	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
)

// Query describes one accepted HOST_ENUM_REQUEST, handed to the
// application as an ENUM_HOSTS_QUERY event so it can decide whether to
// answer and what bytes to attach (spec.md §4.4 host-side counterpart).
type Query struct {
	From            *net.UDPAddr
	ApplicationGUID uuid.UUID
	UserData        []byte
}

// QueryFunc decides whether to answer a Query. Returning ok == false
// drops the request silently, matching the filter-by-application-
// identifier behaviour in spec.md §4.4. appDesc/responseData are only
// read when ok is true.
type QueryFunc func(Query) (ok bool, appDesc []byte, responseData []byte)

// HandleRequest decodes buf as a HOST_ENUM_REQUEST and, if accepted by
// decide, sends a HOST_ENUM_RESPONSE back to from over conn. It reports
// whether buf was a well-formed request at all so callers can ignore
// anything else arriving on the shared discovery socket.
func HandleRequest(conn *net.UDPConn, buf []byte, from *net.UDPAddr, decide QueryFunc) bool {
	des, _, err := packet.Deserialize(buf)
	if err != nil || des.PacketType() != uint32(wire.MsgHostEnumRequest) {
		return false
	}

	var appGUID uuid.UUID
	if isNull, _ := des.IsNull(wire.HostEnumRequestApplicationGUID); !isNull {
		raw, err := des.GetGUID(wire.HostEnumRequestApplicationGUID)
		if err != nil {
			return false
		}
		appGUID = uuid.UUID(raw)
	}

	userData, _ := des.GetData(wire.HostEnumRequestUserData)

	tick, err := des.GetDWord(wire.HostEnumRequestTick)
	if err != nil {
		return false
	}

	ok, appDesc, responseData := decide(Query{From: from, ApplicationGUID: appGUID, UserData: userData})
	if !ok {
		return true
	}

	ser := packet.NewSerializer(uint32(wire.MsgHostEnumResponse))
	ser.AppendData(appDesc)
	ser.AppendData(responseData)
	ser.AppendDWord(tick)

	conn.WriteToUDP(ser.Bytes(), from)

	return true
}
