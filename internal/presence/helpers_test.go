package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rollcall/pkg/types"
)

var errOutboxClosed = errors.New("outbox closed")

// recordingOutbox keeps every event it is handed
type recordingOutbox struct {
	mu     sync.Mutex
	events []types.Event
	closed bool
}

func (o *recordingOutbox) Send(event types.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOutboxClosed
	}
	o.events = append(o.events, event)
	return nil
}

func (o *recordingOutbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *recordingOutbox) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *recordingOutbox) names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, len(o.events))
	for i, e := range o.events {
		names[i] = e.Name
	}
	return names
}

func (o *recordingOutbox) named(name string) []types.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []types.Event
	for _, e := range o.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (o *recordingOutbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = nil
}

// recordingJournal keeps every entry it is handed
type recordingJournal struct {
	mu      sync.Mutex
	entries []types.JournalEntry
}

func (j *recordingJournal) Record(entry types.JournalEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *recordingJournal) SessionEvents(_ context.Context, sessionID string) ([]*types.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*types.JournalEntry
	for i := range j.entries {
		if j.entries[i].SessionID == sessionID {
			entry := j.entries[i]
			out = append(out, &entry)
		}
	}
	return out, nil
}

func (j *recordingJournal) kinds() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	kinds := make([]string, len(j.entries))
	for i, e := range j.entries {
		kinds[i] = e.Kind
	}
	return kinds
}

var fixedTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	var seq atomic.Int64
	base := []Option{
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(func() string { return fmt.Sprintf("conn-%d", seq.Add(1)) }),
	}
	return NewCoordinator(append(base, opts...)...)
}

type client struct {
	id     string
	user   types.Identity
	outbox *recordingOutbox
}

func connect(t *testing.T, c *Coordinator, userID, role string) *client {
	t.Helper()
	identity := types.Identity{UserID: userID, Role: role, DisplayName: "Name " + userID}
	outbox := &recordingOutbox{}
	id, err := c.Connect(identity, outbox)
	if err != nil {
		t.Fatalf("Connect(%s) failed: %v", userID, err)
	}
	outbox.reset()
	return &client{id: id, user: identity, outbox: outbox}
}

// assertConsistent checks that room membership and registry session
// pointers agree in both directions.
func assertConsistent(t *testing.T, c *Coordinator) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sessionID := range c.rooms.SessionIDs() {
		members, _ := c.rooms.MembersOf(sessionID)
		for _, id := range members {
			conn := c.registry.get(id)
			if conn == nil {
				t.Errorf("room %s has member %s missing from registry", sessionID, id)
				continue
			}
			if conn.SessionID != sessionID {
				t.Errorf("room %s has member %s whose session is %q", sessionID, id, conn.SessionID)
			}
		}
	}
	for _, id := range c.registry.IDs() {
		conn := c.registry.get(id)
		if conn.SessionID != "" {
			members, ok := c.rooms.MembersOf(conn.SessionID)
			if !ok {
				t.Errorf("connection %s points at closed room %s", id, conn.SessionID)
				continue
			}
			if !contains(members, id) {
				t.Errorf("connection %s points at room %s but is not a member", id, conn.SessionID)
			}
		}
		if conn.OwnedSessionID != "" {
			room, ok := c.rooms.Get(conn.OwnedSessionID)
			if !ok {
				t.Errorf("connection %s owns closed room %s", id, conn.OwnedSessionID)
				continue
			}
			if room.OwnerConnectionID != id {
				t.Errorf("room %s owner connection is %s, want %s", room.SessionID, room.OwnerConnectionID, id)
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
