package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rollcall/internal/config"
	"rollcall/internal/presence"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Coordinator is the part of the session coordinator the transport drives
type Coordinator interface {
	Connect(identity types.Identity, outbox interfaces.Outbox) (string, error)
	Disconnect(connID string)
}

// RequestRouter answers inbound frames
type RequestRouter interface {
	Route(ctx context.Context, connID string, frame []byte) types.Event
	Forget(connID string)
}

// Handler authenticates the upgrade request, registers the connection with
// the coordinator and runs its read pump.
type Handler struct {
	coordinator Coordinator
	verifier    interfaces.CredentialVerifier
	router      RequestRouter
	config      *config.WebSocketConfig
	origins     []string
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewHandler creates a WebSocket handler. allowedOrigins may contain "*"
// to accept any origin.
func NewHandler(coordinator Coordinator, verifier interfaces.CredentialVerifier, router RequestRouter,
	cfg *config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		coordinator: coordinator,
		verifier:    verifier,
		router:      router,
		config:      cfg,
		origins:     allowedOrigins,
		logger:      logger.With("component", "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	h.logger.Info("rejected origin", "origin", origin)
	return false
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for browsers that cannot set headers on an upgrade.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			return strings.TrimSpace(header[7:])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP authenticates before upgrading. A rejected request gets a
// plain HTTP error and leaves no state behind.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		h.logger.Info("connection refused", "remote_addr", r.RemoteAddr, "error", ErrMissingToken)
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	identity, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, interfaces.ErrUnauthorized) {
			h.logger.Info("connection refused", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.logger.Error("credential verification failed", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "authentication unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	conn := NewConnection(ws, h.config.OutboxLimit, h.config.WriteTimeout, h.config.PingInterval,
		h.logger.With("user_id", identity.UserID))
	connID, err := h.coordinator.Connect(identity, conn)
	if err != nil {
		h.logger.Warn("connection not registered", "user_id", identity.UserID, "error", err)
		code := websocket.CloseInternalServerErr
		if errors.Is(err, presence.ErrCoordinatorClosed) {
			code = websocket.CloseTryAgainLater
		}
		_ = conn.CloseWith(code, presence.CodeOf(err))
		return
	}
	conn.Start()

	h.logger.Info("client connected", "connection_id", connID, "user_id", identity.UserID, "role", identity.Role)

	h.wg.Add(1)
	go h.readPump(conn, connID)
}

// readPump reads frames until the socket fails. The coordinator learns
// about the disconnect exactly once, here.
func (h *Handler) readPump(conn *Connection, connID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.coordinator.Disconnect(connID)
		h.router.Forget(connID)
		_ = conn.Close()
		h.wg.Done()
		h.logger.Info("client disconnected", "connection_id", connID)
	}()

	ws := conn.conn
	ws.SetReadLimit(h.config.MaxMessageBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("read failed", "connection_id", connID, "error", err)
			}
			return
		}
		if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		reply := h.router.Route(ctx, connID, data)
		if err := conn.Send(reply); err != nil {
			return
		}
	}
}

// Wait blocks until every read pump has exited
func (h *Handler) Wait() {
	h.wg.Wait()
}
