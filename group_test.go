package dpnetpeer

import "testing"

func TestGroupJoinLeave(t *testing.T) {
	g := newGroup(GroupID(1), "tests", nil)

	if g.has(PlayerID(7)) {
		t.Fatal("player should not be a member yet")
	}

	g.join(PlayerID(7))
	if !g.has(PlayerID(7)) {
		t.Fatal("player should be a member after join")
	}

	g.join(PlayerID(7)) // duplicate join is a no-op
	if len(g.memberList()) != 1 {
		t.Fatalf("memberList = %v, want exactly one entry", g.memberList())
	}

	g.leave(PlayerID(7))
	if g.has(PlayerID(7)) {
		t.Fatal("player should not be a member after leave")
	}
}

func TestGroupSetInfo(t *testing.T) {
	g := newGroup(GroupID(3), "original", []byte("data"))

	name, data := g.info()
	if name != "original" || string(data) != "data" {
		t.Fatalf("info() = (%q, %q), want (original, data)", name, data)
	}

	g.setInfo("renamed", []byte("new data"))
	name, data = g.info()
	if name != "renamed" || string(data) != "new data" {
		t.Fatalf("info() after setInfo = (%q, %q), want (renamed, new data)", name, data)
	}
}

func TestGroupMemberListSnapshot(t *testing.T) {
	g := newGroup(GroupID(2), "tests", nil)
	g.join(PlayerID(1))
	g.join(PlayerID(2))
	g.join(PlayerID(3))

	members := g.memberList()
	if len(members) != 3 {
		t.Fatalf("got %d members, want 3", len(members))
	}

	seen := make(map[PlayerID]bool)
	for _, m := range members {
		seen[m] = true
	}
	for _, want := range []PlayerID{1, 2, 3} {
		if !seen[want] {
			t.Fatalf("missing player %d in %v", want, members)
		}
	}
}
