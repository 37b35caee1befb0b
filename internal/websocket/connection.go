package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rollcall/pkg/fifo"
	"rollcall/pkg/types"
)

// Connection is the outbox of one client. Send only enqueues; a single
// writer goroutine owns every write to the socket once Start is called.
type Connection struct {
	conn         *websocket.Conn
	pending      *fifo.Queue
	limit        int
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
	done         chan struct{}

	mu        sync.Mutex
	started   bool
	closed    bool
	drain     bool
	closeCode int
	closeText string
}

// NewConnection wraps an upgraded socket. limit is the number of events
// the client may fall behind before it is dropped.
//
// TECHNICAL DISCOVERY: the outbox is unbounded in memory but capped by
// count. A client that stops reading is closed with a policy violation
// rather than stalling the coordinator, which delivers while holding
// deliverMu.
func NewConnection(conn *websocket.Conn, limit int, writeTimeout, pingInterval time.Duration, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		conn:         conn,
		pending:      fifo.New(),
		limit:        limit,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Start launches the writer goroutine. Events sent before Start are
// written first.
func (c *Connection) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	go c.writeLoop()
}

// Send queues event for the writer goroutine. A client already limit events
// behind is closed instead. The close runs on its own goroutine so a caller
// holding locks is never re-entered.
func (c *Connection) Send(event types.Event) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	if pending := c.pending.Len(); pending >= c.limit {
		c.logger.Warn("outbox full, closing slow client", "pending", pending)
		go func() { _ = c.closeWith(websocket.ClosePolicyViolation, "client too slow", false) }()
		return ErrOutboxFull
	}
	c.pending.Append(event)
	return nil
}

// Close writes what is already queued, sends a close frame and tears down
// the socket. The read pump then fails and reports the disconnect.
func (c *Connection) Close() error {
	return c.closeWith(websocket.CloseGoingAway, "connection closed by server", true)
}

// CloseWith closes without writing queued events
func (c *Connection) CloseWith(code int, text string) error {
	return c.closeWith(code, text, false)
}

func (c *Connection) closeWith(code int, text string, drain bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.drain = drain
	c.closeCode = code
	c.closeText = text
	started := c.started
	close(c.done)
	c.mu.Unlock()

	if !started {
		return c.teardown()
	}
	return nil
}

func (c *Connection) teardown() error {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	c.mu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	return c.conn.Close()
}

// Done is closed once the connection starts closing
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Pending returns the number of queued events not yet written
func (c *Connection) Pending() int {
	return c.pending.Len()
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer func() { _ = c.teardown() }()

	for {
		select {
		case <-c.pending.Signal():
			if err := c.flush(); err != nil {
				c.logger.Debug("write failed", "error", err)
				_ = c.CloseWith(websocket.CloseGoingAway, "write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				_ = c.CloseWith(websocket.CloseGoingAway, "ping failed")
				return
			}

		case <-c.done:
			c.mu.Lock()
			drain := c.drain
			c.mu.Unlock()
			if drain {
				_ = c.flush()
			}
			return
		}
	}
}

// flush writes queued events in order until the queue is empty
func (c *Connection) flush() error {
	for {
		element, ok := c.pending.Next()
		if !ok {
			return nil
		}
		event, ok := element.(types.Event)
		if !ok {
			continue
		}
		data, err := json.Marshal(event)
		if err != nil {
			c.logger.Error("failed to encode event", "event", event.Name, "error", err)
			continue
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
}
