// Package wire defines the MSGID_* wire message identifiers and typed
// field accessors layered over the packet package's TLV codec
// (spec.md §4.5, §6.1), grounded on original_source/src/packet.hpp's
// PacketDeserialiser field-name constants.
package wire

import "github.com/dpnetpeer/dpnetpeer/packet"

// MsgID identifies the kind of a message that travels over a peer
// connection's TCP byte stream or the shared discovery UDP socket.
type MsgID uint32

const (
	MsgHostEnumRequest  MsgID = 1
	MsgHostEnumResponse MsgID = 2

	MsgConnectHost     MsgID = 3
	MsgConnectHostOK   MsgID = 4
	MsgConnectHostFail MsgID = 5

	MsgConnectPeer     MsgID = 6
	MsgConnectPeerOK   MsgID = 7
	MsgConnectPeerFail MsgID = 8

	MsgMessage    MsgID = 9
	MsgPlayerInfo MsgID = 10
	MsgAck        MsgID = 11
	MsgAppDesc    MsgID = 12

	MsgDestroyPeer      MsgID = 13
	MsgTerminateSession MsgID = 14

	MsgGroupAllocate MsgID = 15
	MsgGroupCreate   MsgID = 16
	MsgGroupDestroy  MsgID = 17
	MsgGroupJoin     MsgID = 18
	MsgGroupJoined   MsgID = 19
	MsgGroupLeave    MsgID = 20
	MsgGroupLeft     MsgID = 21

	// MsgNewPeer is the host's fan-out notice that a new player has
	// joined, carrying its listen address. Only the higher-numbered side
	// of a pair dials, so an existing peer that receives it does not dial
	// the newcomer; it waits for the newcomer's CONNECT_PEER (spec.md
	// §4.5.3).
	MsgNewPeer MsgID = 22

	// MsgGroupInfo carries a SetGroupInfo update to every member
	// (spec.md §4.5.7).
	MsgGroupInfo MsgID = 23
)

// Field indices for HOST_ENUM_REQUEST / HOST_ENUM_RESPONSE. The packet
// package addresses fields positionally (mirroring
// original_source/src/packet.cpp's index-based PacketDeserialiser), so
// every message that crosses the wire gets its own small block of
// index constants here rather than re-deriving the order at each call
// site.
const (
	HostEnumRequestApplicationGUID = iota
	HostEnumRequestUserData
	HostEnumRequestTick
)

const (
	HostEnumResponseAppDesc = iota
	HostEnumResponseUserData
	HostEnumResponseEchoedTick
)

const (
	ConnectHostInstanceGUID = iota
	ConnectHostApplicationGUID
	ConnectHostPassword
	ConnectHostUserConnectData
	ConnectHostPlayerName
	ConnectHostPlayerData
	ConnectHostListenPort
)

const (
	ConnectHostOKAssignedPlayerID = iota
	ConnectHostOKHostPlayerID
	ConnectHostOKPeerList
	ConnectHostOKAppDesc
	ConnectHostOKHostPlayerName
	ConnectHostOKHostPlayerData
	ConnectHostOKGroupSnapshot
)

const (
	ConnectHostFailReplyCode = iota
	ConnectHostFailReplyData
)

const (
	ConnectPeerInstanceGUID = iota
	ConnectPeerApplicationGUID
	ConnectPeerPassword
	ConnectPeerPlayerID
	ConnectPeerPlayerName
	ConnectPeerPlayerData
)

const (
	NewPeerPlayerID = iota
	NewPeerIP
	NewPeerPort
)

const (
	ConnectPeerOKPlayerID = iota
	ConnectPeerOKPlayerName
	ConnectPeerOKPlayerData
	ConnectPeerOKGroupSnapshot
)

const (
	ConnectPeerFailReplyCode = iota
)

const (
	MessageSenderID = iota
	MessagePayload
	MessageSendFlags
	// MessageTargetID is the concrete recipient's player id (SendTo
	// expands AllPlayers and groups before sending) so a star-topology
	// host can relay to peers the sender isn't directly connected to
	// (spec.md §4.5.5).
	MessageTargetID
)

const (
	PlayerInfoPlayerID = iota
	PlayerInfoName
	PlayerInfoData
	PlayerInfoAckID
)

const (
	AckID = iota
	AckResult
	// AckValue carries GROUP_ALLOCATE's assigned group id back to the
	// requester; zero (and ignored) for every other ack (spec.md
	// §4.5.7).
	AckValue
)

const (
	AppDescMaxPlayers = iota
	AppDescSessionName
	AppDescPassword
	AppDescAppData
)

const (
	DestroyPeerVictimID = iota
	DestroyPeerDestroyData
)

const (
	TerminateSessionData = iota
)

const (
	GroupAllocateAckID = iota
)

const (
	GroupCreateID = iota
	GroupCreateName
	GroupCreateData
)

const (
	GroupDestroyID = iota
)

const (
	GroupJoinGroupID = iota
	GroupJoinAckID
	GroupJoinName
	GroupJoinData
)

const (
	GroupJoinedGroupID = iota
	GroupJoinedName
	GroupJoinedData
)

const (
	GroupLeaveGroupID = iota
	GroupLeaveAckID
)

const (
	GroupLeftGroupID = iota
)

const (
	GroupInfoGroupID = iota
	GroupInfoName
	GroupInfoData
)

// PeerDescriptor is one entry of the peer list carried in
// CONNECT_HOST_OK (spec.md §4.5.2). It is encoded as three consecutive
// fields rather than a nested packet, matching the flat field list the
// packet codec supports.
type PeerDescriptor struct {
	PlayerID uint32
	IP       string
	TCPPort  uint16
}

// EncodePeerList flattens descs into a DATA-field payload: each entry
// becomes a (DWORD player id, WSTRING ip, DWORD port) triple appended
// to one inner packet record, which is itself carried as a single
// CONNECT_HOST_OK DATA field (spec.md §4.5.2, §4.5.4 full-mesh
// promotion). CONNECT_PEER_OK carries no peer list.
func EncodePeerList(descs []PeerDescriptor) []byte {
	ser := packet.NewSerializer(0)
	for _, d := range descs {
		ser.AppendDWord(d.PlayerID)
		ser.AppendWString(d.IP)
		ser.AppendDWord(uint32(d.TCPPort))
	}
	return ser.Bytes()
}

// DecodePeerList reverses EncodePeerList.
func DecodePeerList(buf []byte) ([]PeerDescriptor, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	des, _, err := packet.Deserialize(buf)
	if err != nil {
		return nil, err
	}
	n := des.NumFields() / 3
	out := make([]PeerDescriptor, 0, n)
	for i := 0; i < n; i++ {
		id, err := des.GetDWord(i * 3)
		if err != nil {
			return nil, err
		}
		ip, err := des.GetWString(i*3 + 1)
		if err != nil {
			return nil, err
		}
		port, err := des.GetDWord(i*3 + 2)
		if err != nil {
			return nil, err
		}
		out = append(out, PeerDescriptor{PlayerID: id, IP: ip, TCPPort: uint16(port)})
	}
	return out, nil
}

// EncodeGroupSnapshot flattens a set of group ids a sender currently
// belongs to into a DATA-field payload, one DWORD field per id. New
// joiners replay ADD_PLAYER_TO_GROUP for each entry before
// CONNECT_COMPLETE fires (spec.md §4.5.7).
func EncodeGroupSnapshot(ids []uint32) []byte {
	ser := packet.NewSerializer(0)
	for _, id := range ids {
		ser.AppendDWord(id)
	}
	return ser.Bytes()
}

// DecodeGroupSnapshot reverses EncodeGroupSnapshot.
func DecodeGroupSnapshot(buf []byte) ([]uint32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	des, _, err := packet.Deserialize(buf)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, des.NumFields())
	for i := 0; i < des.NumFields(); i++ {
		id, err := des.GetDWord(i)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
