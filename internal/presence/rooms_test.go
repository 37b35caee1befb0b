package presence

import (
	"errors"
	"testing"
	"time"

	"rollcall/pkg/types"
)

func testConn(id, userID, role string) Connection {
	return Connection{ID: id, Identity: types.Identity{UserID: userID, Role: role}}
}

// TestRoomTable_OpenIdempotentForOwner tests reopen and conflict handling
func TestRoomTable_OpenIdempotentForOwner(t *testing.T) {
	table := NewRoomTable()
	meta := RoomMetadata{CourseID: "CS101", OwnerName: "Dr F", OpenedAt: time.Now()}

	room, created, err := table.Open("S1", testConn("c1", "fac1", types.RoleFaculty), meta)
	if err != nil || !created {
		t.Fatalf("first open: created=%v err=%v", created, err)
	}
	if room.OwnerConnectionID != "c1" || !equalStrings(room.Members, []string{"c1"}) {
		t.Errorf("unexpected room %+v", room)
	}

	again, created, err := table.Open("S1", testConn("c1", "fac1", types.RoleFaculty), RoomMetadata{CourseID: "other"})
	if err != nil || created {
		t.Fatalf("reopen: created=%v err=%v", created, err)
	}
	if again.CourseID != "CS101" {
		t.Errorf("reopen must not replace metadata, got %s", again.CourseID)
	}

	if _, _, err := table.Open("S1", testConn("c2", "fac2", types.RoleFaculty), meta); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("expected ErrAlreadyOpen, got %v", err)
	}
	if room, _ := table.Get("S1"); room.OwnerUserID != "fac1" {
		t.Errorf("owner = %s, want fac1", room.OwnerUserID)
	}
}

// TestRoomTable_JoinLeave tests membership idempotence
func TestRoomTable_JoinLeave(t *testing.T) {
	table := NewRoomTable()
	table.Open("S1", testConn("c1", "fac1", types.RoleFaculty), RoomMetadata{})

	tests := []struct {
		name    string
		op      func() (bool, error)
		changed bool
		wantErr error
		members int
	}{
		{"join", func() (bool, error) { return table.Join("S1", "c2") }, true, nil, 2},
		{"join again", func() (bool, error) { return table.Join("S1", "c2") }, false, nil, 2},
		{"leave", func() (bool, error) { return table.Leave("S1", "c2") }, true, nil, 1},
		{"leave non-member", func() (bool, error) { return table.Leave("S1", "c2") }, false, nil, 1},
		{"owner leave keeps room", func() (bool, error) { return table.Leave("S1", "c1") }, true, nil, 0},
		{"join missing room", func() (bool, error) { return table.Join("S2", "c2") }, false, ErrSessionNotFound, 0},
		{"leave missing room", func() (bool, error) { return table.Leave("S2", "c2") }, false, ErrSessionNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed, err := tt.op()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if changed != tt.changed {
				t.Errorf("changed = %v, want %v", changed, tt.changed)
			}
			members, ok := table.MembersOf("S1")
			if !ok || len(members) != tt.members {
				t.Errorf("members = %v, want %d", members, tt.members)
			}
		})
	}
}

// TestRoomTable_Close tests ownership checks on close
func TestRoomTable_Close(t *testing.T) {
	table := NewRoomTable()
	table.Open("S1", testConn("c1", "fac1", types.RoleFaculty), RoomMetadata{})
	table.Join("S1", "c2")

	if _, err := table.Close("S1", "stu1"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	room, err := table.Close("S1", "fac1")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !equalStrings(room.Members, []string{"c1", "c2"}) {
		t.Errorf("close should return the last member set, got %v", room.Members)
	}
	if _, err := table.Close("S1", "fac1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second close: expected ErrSessionNotFound, got %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("expected empty table")
	}
}

// TestRegistry_RegisterRemove tests the user index across replacement
func TestRegistry_RegisterRemove(t *testing.T) {
	r := NewRegistry()
	first := testConn("c1", "u1", types.RoleStudent)
	if err := r.Register(&first); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(&first); !errors.Is(err, ErrDuplicateConnection) {
		t.Errorf("expected ErrDuplicateConnection, got %v", err)
	}

	second := testConn("c2", "u1", types.RoleStudent)
	r.Register(&second)
	if id, _ := r.ConnectionOf("u1"); id != "c2" {
		t.Errorf("user index = %s, want c2", id)
	}

	removed, ok := r.Remove("c1")
	if !ok || removed.ID != "c1" {
		t.Fatalf("remove returned %+v, %v", removed, ok)
	}
	if id, ok := r.ConnectionOf("u1"); !ok || id != "c2" {
		t.Errorf("removing the old entry must keep the replacement indexed")
	}
	if _, ok := r.Remove("c1"); ok {
		t.Error("second remove should report not found")
	}

	if !r.SetSession("c2", "S1") {
		t.Fatal("SetSession on known connection failed")
	}
	if conn, _ := r.Lookup("c2"); conn.SessionID != "S1" {
		t.Errorf("session = %q, want S1", conn.SessionID)
	}
	if r.SetSession("missing", "S1") {
		t.Error("SetSession on unknown connection should report false")
	}
}
