package dpnetpeer

import "sync"

// group is instance-local bookkeeping for one group identifier,
// adapted from the teacher's group struct (group.go): name/peers stays,
// but membership here is a set of PlayerIDs rather than live peer
// sockets (broadcasts go through the peer/peerConn table, not the
// group), and a group additionally tracks its own context slot. Ids
// are permanently retired once destroyed; retired ids are recorded in
// Instance.destroyedGroups, and the destroyed field here is never set
// (spec.md §4.5.7).
type group struct {
	mu sync.Mutex

	id      GroupID
	name    string
	data    []byte
	context interface{}

	members map[PlayerID]struct{}

	destroyed bool
}

func newGroup(id GroupID, name string, data []byte) *group {
	return &group{
		id:      id,
		name:    name,
		data:    data,
		members: make(map[PlayerID]struct{}),
	}
}

// join adds player to the group; joining twice is a no-op, mirroring
// the teacher's "ignore duplicate joins" comment on group.join.
func (g *group) join(player PlayerID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[player] = struct{}{}
}

// leave removes player from the group.
func (g *group) leave(player PlayerID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, player)
}

// has reports whether player is currently a member.
func (g *group) has(player PlayerID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.members[player]
	return ok
}

// setInfo updates the group's name/data, broadcast by SetGroupInfo.
func (g *group) setInfo(name string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
	g.data = data
}

// info returns the group's current name/data.
func (g *group) info() (string, []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.name, g.data
}

// memberList returns a snapshot of current members.
func (g *group) memberList() []PlayerID {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]PlayerID, 0, len(g.members))
	for p := range g.members {
		out = append(out, p)
	}
	return out
}
