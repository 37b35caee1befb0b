package presence

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

type delivery struct {
	connectionID string
	outbox       interfaces.Outbox
	event        types.Event
}

// Batch collects the outbound effects of one transition. It is filled while
// the coordinator lock is held and flushed after it is released.
//
// TECHNICAL DISCOVERY: journal entries ride in the same batch as the
// events, so the journal sees transitions in the order clients do.
type Batch struct {
	deliveries []delivery
	journal    []types.JournalEntry
	closers    []interfaces.Outbox
}

func (b *Batch) record(entry types.JournalEntry) {
	b.journal = append(b.journal, entry)
}

func (b *Batch) closeLater(outbox interfaces.Outbox) {
	if outbox != nil {
		b.closers = append(b.closers, outbox)
	}
}

// Dispatcher resolves recipients against the registry and room table and
// hands events to connection outboxes. It applies no business rules.
type Dispatcher struct {
	registry *Registry
	rooms    *RoomTable
	logger   *slog.Logger
	now      func() time.Time

	delivered atomic.Uint64
	dropped   atomic.Uint64
	healed    atomic.Uint64
}

func newDispatcher(registry *Registry, rooms *RoomTable, logger *slog.Logger, now func() time.Time) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		rooms:    rooms,
		logger:   logger,
		now:      now,
	}
}

// Event builds an outbound envelope. Every recipient of one logical event
// sees the same ID.
func (d *Dispatcher) Event(name string, data interface{}) types.Event {
	return types.Event{
		ID:        xid.New().String(),
		Name:      name,
		Data:      data,
		Timestamp: d.now().UTC(),
	}
}

// ToConnection queues event for one connection. A connection that is gone
// is skipped silently.
func (d *Dispatcher) ToConnection(b *Batch, connectionID string, event types.Event) {
	if connectionID == "" {
		return
	}
	conn := d.registry.get(connectionID)
	if conn == nil {
		return
	}
	b.deliveries = append(b.deliveries, delivery{connectionID: conn.ID, outbox: conn.outbox, event: event})
}

// ToEach queues event for every connection in ids
func (d *Dispatcher) ToEach(b *Batch, ids []string, event types.Event) {
	for _, id := range ids {
		d.ToConnection(b, id, event)
	}
}

// ToRoom queues event for every current member of sessionID except exclude.
// Members that disagree with the registry are evicted and logged.
func (d *Dispatcher) ToRoom(b *Batch, sessionID string, event types.Event, exclude string) {
	members, exists := d.rooms.MembersOf(sessionID)
	if !exists {
		return
	}
	for _, id := range members {
		conn := d.registry.get(id)
		if conn == nil || conn.SessionID != sessionID {
			d.evict(sessionID, id, conn)
			continue
		}
		if id == exclude {
			continue
		}
		b.deliveries = append(b.deliveries, delivery{connectionID: id, outbox: conn.outbox, event: event})
	}
}

// ToAll queues event for every registered connection
func (d *Dispatcher) ToAll(b *Batch, event types.Event) {
	for _, id := range d.registry.IDs() {
		d.ToConnection(b, id, event)
	}
}

func (d *Dispatcher) evict(sessionID, connectionID string, conn *Connection) {
	attrs := []any{"session_id", sessionID, "connection_id", connectionID}
	if conn == nil {
		attrs = append(attrs, "reason", "not registered")
	} else {
		attrs = append(attrs, "reason", "session mismatch", "connection_session_id", conn.SessionID)
	}
	d.logger.Error("internal inconsistency: evicting room member", attrs...)
	d.rooms.evict(sessionID, connectionID)
	d.healed.Add(1)
}

// deliver hands every queued event to its outbox in batch order. Outboxes
// never block, so this is safe to run while holding the delivery lock.
func (d *Dispatcher) deliver(b *Batch) {
	for _, dl := range b.deliveries {
		if err := dl.outbox.Send(dl.event); err != nil {
			d.dropped.Add(1)
			d.logger.Warn("dropped event",
				"connection_id", dl.connectionID,
				"event", dl.event.Name,
				"error", err)
			continue
		}
		d.delivered.Add(1)
	}
}
