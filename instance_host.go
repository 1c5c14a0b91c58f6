package dpnetpeer

import (
	"net"

	"github.com/google/uuid"

	"github.com/dpnetpeer/dpnetpeer/errs"
	"github.com/dpnetpeer/dpnetpeer/hostenum"
	"github.com/dpnetpeer/dpnetpeer/internal/wire"
	"github.com/dpnetpeer/dpnetpeer/packet"
)

// DefaultDiscoveryPort is the well-known UDP port a host listens on for
// HOST_ENUM_REQUEST probes when the caller doesn't override it.
const DefaultDiscoveryPort = 6073

// HostConfig parameters for Host().
type HostConfig struct {
	Desc ApplicationDesc

	// BindAddr selects the local IP to bind the TCP+UDP session
	// sockets to; the zero value binds all interfaces.
	BindAddr net.IP
	// Port is the local TCP/UDP port; 0 selects an ephemeral port.
	Port int

	// DisableDiscovery skips binding the discovery UDP socket, so the
	// host is only reachable via direct Connect.
	DisableDiscovery bool
	DiscoveryPort    int
}

// Host transitions INITIALISED → HOSTING (spec.md §4.5.1): allocates a
// fresh instance identifier, stores the application description,
// binds TCP + UDP on the requested or default port, and unless
// disabled binds the discovery socket. Failure unwinds fully back to
// INITIALISED.
func (inst *Instance) Host(cfg HostConfig) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != StateInitialised {
		return errs.New(errs.KindAlreadyConnected, "instance is not in INITIALISED state")
	}

	tcpAddr := &net.TCPAddr{IP: cfg.BindAddr, Port: cfg.Port}
	lis, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return errs.Wrap(errs.KindGeneric, err, "bind TCP listener")
	}

	udpAddr := &net.UDPAddr{IP: cfg.BindAddr, Port: lis.Addr().(*net.TCPAddr).Port}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		lis.Close()
		return errs.Wrap(errs.KindGeneric, err, "bind UDP socket")
	}

	var discoveryConn *net.UDPConn
	if !cfg.DisableDiscovery {
		dport := cfg.DiscoveryPort
		if dport == 0 {
			dport = DefaultDiscoveryPort
		}
		discoveryConn, err = net.ListenUDP("udp", &net.UDPAddr{IP: cfg.BindAddr, Port: dport})
		if err != nil {
			lis.Close()
			udpConn.Close()
			return errs.Wrap(errs.KindGeneric, err, "bind discovery socket")
		}
	}

	inst.tcpListener = lis
	inst.udpConn = udpConn
	inst.discoveryConn = discoveryConn
	inst.applicationDesc = cfg.Desc
	inst.localPlayerID = inst.nextPlayer()
	inst.hostPlayerID = inst.localPlayerID
	inst.state = StateHosting

	inst.dispatch(&Event{Type: EventCreatePlayer, Player: inst.localPlayerID, Local: true})

	go inst.acceptLoop(lis)
	if discoveryConn != nil {
		go inst.discoveryLoop(discoveryConn)
	}

	return nil
}

func (inst *Instance) acceptLoop(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			return
		}
		go inst.handleAccepted(conn)
	}
}

// handleAccepted reads the first packet off a freshly accepted socket
// and dispatches to the CONNECT_HOST or CONNECT_PEER accept flow
// depending on which the dialer opens with: a host's listener takes
// both, since full-mesh promotion (spec.md §4.5.4) has peers dialing
// each other on the same socket a fresh player would use to join.
func (inst *Instance) handleAccepted(conn net.Conn) {
	buf := make([]byte, 65536)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return
	}

	des, _, err := packet.Deserialize(buf[:n])
	if err != nil {
		conn.Close()
		return
	}

	switch wire.MsgID(des.PacketType()) {
	case wire.MsgConnectHost:
		inst.handleConnectHostAccept(conn, des)
	case wire.MsgConnectPeer:
		inst.handleConnectPeerAccept(conn, des)
	default:
		conn.Close()
	}
}

// handleConnectHostAccept drives the host-side CONNECT_HOST accept flow
// (spec.md §4.5.3): validate, admit, assign a player id, tell the
// newcomer about every already-connected peer and group it needs to
// know about, then fan the newcomer's own descriptor out to those
// peers so they dial it directly.
func (inst *Instance) handleConnectHostAccept(conn net.Conn, des *packet.Deserializer) {
	pc := newPeerConn(conn, ConnAccepted)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != StateHosting {
		inst.sendConnectHostFail(conn, errs.KindNotHost)
		conn.Close()
		return
	}

	appGUID, err := des.GetGUID(wire.ConnectHostApplicationGUID)
	if err != nil || appGUID != [16]byte(inst.applicationDesc.ApplicationGUID) {
		inst.sendConnectHostFail(conn, errs.KindInvalidApplication)
		conn.Close()
		return
	}

	if inst.applicationDesc.Password != "" {
		pw, _ := des.GetWString(wire.ConnectHostPassword)
		if pw != inst.applicationDesc.Password {
			inst.sendConnectHostFail(conn, errs.KindInvalidPassword)
			conn.Close()
			return
		}
	}

	if inst.applicationDesc.MaxPlayers != 0 && uint32(len(inst.peers)+1) >= inst.applicationDesc.MaxPlayers {
		inst.sendConnectHostFail(conn, errs.KindHostRejectedConnection)
		conn.Close()
		return
	}

	name, _ := des.GetWString(wire.ConnectHostPlayerName)
	data, _ := des.GetData(wire.ConnectHostPlayerData)
	listenPort, _ := des.GetDWord(wire.ConnectHostListenPort)

	pc.setState(ConnIndicating)

	ev := &Event{Type: EventIndicateConnect, FromAddr: conn.RemoteAddr(), Allow: true}
	inst.dispatch(ev)

	if !ev.Allow {
		inst.sendConnectHostFail(conn, errs.KindHostRejectedConnection)
		conn.Close()
		return
	}

	remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	peerDescs := make([]wire.PeerDescriptor, 0, len(inst.peers))
	for id, p := range inst.peers {
		peerDescs = append(peerDescs, wire.PeerDescriptor{PlayerID: uint32(id), IP: p.ip, TCPPort: p.listenPort})
	}
	var hostGroups []uint32
	for id, g := range inst.groups {
		if g.has(inst.localPlayerID) {
			hostGroups = append(hostGroups, uint32(id))
		}
	}

	playerID := inst.nextPlayer()
	pc.playerID = playerID
	pc.name = name
	pc.data = data
	pc.ip = remoteIP
	pc.listenPort = uint16(listenPort)
	pc.setState(ConnConnected)
	inst.peers[playerID] = pc

	inst.dispatch(&Event{Type: EventCreatePlayer, Player: playerID, Local: false})

	inst.broadcastNewPeer(playerID, remoteIP, uint16(listenPort))
	inst.sendConnectHostOK(conn, playerID, peerDescs, hostGroups)

	go inst.readLoop(pc)
}

// handleConnectPeerAccept admits a direct peer-to-peer dial made as
// part of full-mesh promotion (spec.md §4.5.4). The dialer is always
// the higher-numbered side of the pair (see connectToPeer), so a
// pre-existing connection for the same remote id is a stale duplicate
// rather than a genuine simultaneous-dial race; it is dropped in favor
// of this new one.
func (inst *Instance) handleConnectPeerAccept(conn net.Conn, des *packet.Deserializer) {
	appGUID, err := des.GetGUID(wire.ConnectPeerApplicationGUID)
	remoteID, err2 := des.GetDWord(wire.ConnectPeerPlayerID)
	name, _ := des.GetWString(wire.ConnectPeerPlayerName)
	data, _ := des.GetData(wire.ConnectPeerPlayerData)

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if err != nil || err2 != nil || appGUID != [16]byte(inst.applicationDesc.ApplicationGUID) {
		inst.sendConnectPeerFail(conn, errs.KindInvalidApplication)
		conn.Close()
		return
	}

	if existing, dup := inst.peers[PlayerID(remoteID)]; dup {
		existing.close()
		delete(inst.peers, PlayerID(remoteID))
	}

	remoteIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	pc := newPeerConn(conn, ConnConnected)
	pc.playerID = PlayerID(remoteID)
	pc.name = name
	pc.data = data
	pc.ip = remoteIP
	inst.peers[pc.playerID] = pc

	var groupIDs []uint32
	for id, g := range inst.groups {
		if g.has(inst.localPlayerID) {
			groupIDs = append(groupIDs, uint32(id))
		}
	}

	inst.dispatch(&Event{Type: EventCreatePlayer, Player: pc.playerID, Local: false})

	inst.sendConnectPeerOK(conn, groupIDs)

	go inst.readLoop(pc)
}

func (inst *Instance) sendConnectHostFail(conn net.Conn, kind ErrorKind) {
	ser := packet.NewSerializer(uint32(wire.MsgConnectHostFail))
	ser.AppendDWord(uint32(kind))
	ser.AppendNull()
	conn.Write(ser.Bytes())
}

func (inst *Instance) sendConnectHostOK(conn net.Conn, assigned PlayerID, peers []wire.PeerDescriptor, groupIDs []uint32) {
	ser := packet.NewSerializer(uint32(wire.MsgConnectHostOK))
	ser.AppendDWord(uint32(assigned))
	ser.AppendDWord(uint32(inst.hostPlayerID))
	ser.AppendData(wire.EncodePeerList(peers))
	ser.AppendData(inst.applicationDescBytes())
	ser.AppendWString(inst.localName)
	ser.AppendData(inst.localData)
	ser.AppendData(wire.EncodeGroupSnapshot(groupIDs))
	conn.Write(ser.Bytes())
}

func (inst *Instance) sendConnectPeerFail(conn net.Conn, kind ErrorKind) {
	ser := packet.NewSerializer(uint32(wire.MsgConnectPeerFail))
	ser.AppendDWord(uint32(kind))
	conn.Write(ser.Bytes())
}

func (inst *Instance) sendConnectPeerOK(conn net.Conn, groupIDs []uint32) {
	ser := packet.NewSerializer(uint32(wire.MsgConnectPeerOK))
	ser.AppendDWord(uint32(inst.localPlayerID))
	ser.AppendWString(inst.localName)
	ser.AppendData(inst.localData)
	ser.AppendData(wire.EncodeGroupSnapshot(groupIDs))
	conn.Write(ser.Bytes())
}

// broadcastNewPeer fans playerID's listen address out to every
// already-connected peer. The peers do not dial it: the newcomer has
// the higher id and dials each of them from the CONNECT_HOST_OK peer
// list (spec.md §4.5.3-4.5.4). Caller must hold inst.mu.
func (inst *Instance) broadcastNewPeer(playerID PlayerID, ip string, port uint16) {
	ser := packet.NewSerializer(uint32(wire.MsgNewPeer))
	ser.AppendDWord(uint32(playerID))
	ser.AppendWString(ip)
	ser.AppendDWord(uint32(port))
	buf := ser.Bytes()
	for id, pc := range inst.peers {
		if id == playerID {
			continue
		}
		pc.conn.Write(buf)
	}
}

func (inst *Instance) applicationDescBytes() []byte {
	ser := packet.NewSerializer(uint32(wire.MsgAppDesc))
	ser.AppendDWord(inst.applicationDesc.MaxPlayers)
	ser.AppendWString(inst.applicationDesc.SessionName)
	ser.AppendWString(inst.applicationDesc.Password)
	ser.AppendData(inst.applicationDesc.ReservedData)
	return ser.Bytes()
}

// discoveryLoop answers HOST_ENUM_REQUEST probes on the discovery
// socket, filtering by application identifier and giving the
// application a chance to veto via ENUM_HOSTS_QUERY (spec.md §4.4).
func (inst *Instance) discoveryLoop(conn *net.UDPConn) {
	buf := make([]byte, 65536)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		hostenum.HandleRequest(conn, buf[:n], from, func(q hostenum.Query) (bool, []byte, []byte) {
			inst.mu.Lock()
			defer inst.mu.Unlock()

			if q.ApplicationGUID != uuid.Nil && q.ApplicationGUID != inst.applicationDesc.ApplicationGUID {
				return false, nil, nil
			}

			ev := &Event{Type: EventEnumHostsQuery, FromAddr: from, UserData: q.UserData, Allow: true}
			inst.dispatch(ev)
			if !ev.Allow {
				return false, nil, nil
			}

			return true, inst.applicationDescBytes(), ev.Buffer
		})
	}
}
