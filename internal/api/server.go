package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rollcall/internal/presence"
	"rollcall/pkg/interfaces"
	"rollcall/pkg/types"
)

// Coordinator is the read and broadcast surface of the session coordinator
type Coordinator interface {
	OpenSessions() []string
	Room(sessionID string) (*presence.RoomInfo, bool)
	Members(sessionID string) ([]types.Member, error)
	BroadcastAttendanceUpdate(ctx context.Context, sessionID string, mark types.AttendanceMark) error
	BroadcastSessionUpdate(ctx context.Context, sessionID string, payload map[string]interface{}) error
	Stats() presence.Stats
}

// backlogReporter is implemented by stores that queue journal writes
type backlogReporter interface {
	JournalBacklog() int
}

// Server is the operational HTTP API used by the REST layer and operators
type Server struct {
	coordinator Coordinator
	dbManager   interfaces.DatabaseManager
	verifier    interfaces.CredentialVerifier
	serviceKey  string
	origins     []string
	logger      *slog.Logger
	started     time.Time
	router      *http.ServeMux
}

// NewServer wires the routes. An empty serviceKey disables service-key
// access; bearer tokens of faculty and admins still work.
func NewServer(coordinator Coordinator, dbManager interfaces.DatabaseManager, verifier interfaces.CredentialVerifier,
	serviceKey string, allowedOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coordinator: coordinator,
		dbManager:   dbManager,
		verifier:    verifier,
		serviceKey:  serviceKey,
		origins:     allowedOrigins,
		logger:      logger.With("component", "api"),
		started:     time.Now(),
		router:      http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	staff := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(false, h)))
	}
	service := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(s.authMiddleware(true, h)))
	}

	s.router.Handle("GET /api/sessions", staff(s.listSessions))
	s.router.Handle("GET /api/sessions/{id}/members", staff(s.listMembers))
	s.router.Handle("GET /api/sessions/{id}/events", staff(s.listEvents))
	s.router.Handle("POST /api/sessions/{id}/attendance", staff(s.broadcastAttendance))
	s.router.Handle("POST /api/sessions/{id}/updates", staff(s.broadcastUpdate))
	s.router.Handle("PUT /api/accounts/{id}", service(s.upsertAccount))
	s.router.Handle("OPTIONS /api/", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	s.router.Handle("GET /health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response types
type SessionSummary struct {
	SessionID   string    `json:"sessionId"`
	CourseID    string    `json:"courseId"`
	OwnerUserID string    `json:"ownerUserId"`
	OwnerName   string    `json:"ownerName"`
	OpenedAt    time.Time `json:"openedAt"`
	MemberCount int       `json:"memberCount"`
}

type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

type MembersResponse struct {
	SessionID string         `json:"sessionId"`
	Members   []types.Member `json:"members"`
}

type EventsResponse struct {
	SessionID string                `json:"sessionId"`
	Events    []*types.JournalEntry `json:"events"`
}

type HealthResponse struct {
	Status         string         `json:"status"`
	Timestamp      time.Time      `json:"timestamp"`
	Database       string         `json:"database"`
	Uptime         string         `json:"uptime"`
	Presence       presence.Stats `json:"presence"`
	JournalBacklog int            `json:"journalBacklog"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.coordinator.OpenSessions()
	sessions := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		room, ok := s.coordinator.Room(id)
		if !ok {
			continue
		}
		sessions = append(sessions, SessionSummary{
			SessionID:   room.SessionID,
			CourseID:    room.CourseID,
			OwnerUserID: room.OwnerUserID,
			OwnerName:   room.OwnerName,
			OpenedAt:    room.OpenedAt,
			MemberCount: len(room.Members),
		})
	}
	s.sendJSON(w, http.StatusOK, ListSessionsResponse{Sessions: sessions})
}

// GET /api/sessions/{id}/members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	members, err := s.coordinator.Members(sessionID)
	if err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, MembersResponse{SessionID: sessionID, Members: members})
}

// GET /api/sessions/{id}/events returns the journal, which outlives the room
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if !types.IsValidSessionID(sessionID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}
	events, err := s.dbManager.SessionEvents(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to read journal", "session_id", sessionID, "error", err)
		s.sendError(w, "Failed to read session events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*types.JournalEntry{}
	}
	s.sendJSON(w, http.StatusOK, EventsResponse{SessionID: sessionID, Events: events})
}

// POST /api/sessions/{id}/attendance pushes a mark recorded over REST
func (s *Server) broadcastAttendance(w http.ResponseWriter, r *http.Request) {
	var mark types.AttendanceMark
	if err := json.NewDecoder(r.Body).Decode(&mark); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.coordinator.BroadcastAttendanceUpdate(r.Context(), r.PathValue("id"), mark); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// POST /api/sessions/{id}/updates pushes an arbitrary session change
func (s *Server) broadcastUpdate(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.coordinator.BroadcastSessionUpdate(r.Context(), r.PathValue("id"), payload); err != nil {
		s.sendCoordinatorError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PUT /api/accounts/{id} syncs one directory account
func (s *Server) upsertAccount(w http.ResponseWriter, r *http.Request) {
	var account types.Account
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	account.ID = r.PathValue("id")
	if err := account.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.dbManager.UpsertAccount(r.Context(), &account); err != nil {
		s.logger.Error("failed to upsert account", "user_id", account.ID, "error", err)
		s.sendError(w, "Failed to store account", http.StatusInternalServerError)
		return
	}
	s.logger.Info("account synced", "user_id", account.ID, "role", account.Role, "active", account.Active)
	s.sendJSON(w, http.StatusOK, account)
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Presence:  s.coordinator.Stats(),
	}
	if err := s.dbManager.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = fmt.Sprintf("error: %v", err)
	}
	if b, ok := s.dbManager.(backlogReporter); ok {
		response.JournalBacklog = b.JournalBacklog()
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

// sendCoordinatorError maps a transition error onto an HTTP status
func (s *Server) sendCoordinatorError(w http.ResponseWriter, err error) {
	var perr *presence.Error
	if !errors.As(err, &perr) {
		s.logger.Error("coordinator call failed", "error", err)
		s.sendError(w, "Internal error", http.StatusInternalServerError)
		return
	}

	code := http.StatusInternalServerError
	switch perr.Kind {
	case presence.KindInvalidRequest:
		code = http.StatusBadRequest
	case presence.KindNotFound:
		code = http.StatusNotFound
	case presence.KindConflict:
		code = http.StatusConflict
	case presence.KindAuthorization:
		code = http.StatusForbidden
	case presence.KindUnavailable:
		code = http.StatusServiceUnavailable
	}
	s.sendError(w, err.Error(), code)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// authMiddleware admits the service key, or when serviceOnly is false, a
// bearer token of a faculty member or admin.
func (s *Server) authMiddleware(serviceOnly bool, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := r.Header.Get("X-Service-Key"); key != "" {
			if s.serviceKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.serviceKey)) == 1 {
				next(w, r)
				return
			}
			s.sendError(w, "Invalid service key", http.StatusUnauthorized)
			return
		}

		header := r.Header.Get("Authorization")
		if len(header) <= 7 || !strings.EqualFold(header[:7], "bearer ") {
			s.sendError(w, "Credentials required", http.StatusUnauthorized)
			return
		}
		if serviceOnly {
			s.sendError(w, "Service key required", http.StatusForbidden)
			return
		}

		identity, err := s.verifier.Verify(r.Context(), strings.TrimSpace(header[7:]))
		if err != nil {
			if errors.Is(err, interfaces.ErrUnauthorized) {
				s.sendError(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			s.logger.Error("credential verification failed", "error", err)
			s.sendError(w, "Authentication unavailable", http.StatusServiceUnavailable)
			return
		}
		if identity.Role != types.RoleFaculty && identity.Role != types.RoleAdmin {
			s.sendError(w, "Faculty or admin role required", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, allowed := range s.origins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Service-Key")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
