package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rs/xid"

	"rollcall/internal/presence"
	"rollcall/pkg/types"
)

// SessionCoordinator is the set of transitions a connection may request
type SessionCoordinator interface {
	OpenSession(ctx context.Context, connID, sessionID, courseID string) (*presence.RoomInfo, error)
	CloseSession(ctx context.Context, connID, sessionID string) error
	JoinSession(ctx context.Context, connID, sessionID string) error
	LeaveSession(ctx context.Context, connID, sessionID string) error
	MarkAttendance(ctx context.Context, connID, sessionID string, mark types.AttendanceMark) error
}

// Router turns inbound frames into coordinator transitions and produces the
// reply for the sender. Events caused by a transition are delivered by the
// coordinator itself; the router only answers ack or error.
type Router struct {
	coordinator SessionCoordinator
	limiter     *RateLimiter
	logger      *slog.Logger
	now         func() time.Time
}

// NewRouter creates a router. A nil limiter disables rate limiting.
func NewRouter(coordinator SessionCoordinator, limiter *RateLimiter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		coordinator: coordinator,
		limiter:     limiter,
		logger:      logger.With("component", "router"),
		now:         time.Now,
	}
}

// Route handles one frame from connID and returns the reply to send back
func (r *Router) Route(ctx context.Context, connID string, frame []byte) types.Event {
	var req types.Request
	err := json.Unmarshal(frame, &req)

	// malformed frames count against the limit too
	if r.limiter != nil && !r.limiter.Allow(connID) {
		return r.reject(connID, req, presence.ErrRateLimited)
	}
	if err != nil || req.Name == "" {
		return r.reject(connID, req, ErrMalformedRequest)
	}

	if err := r.dispatch(ctx, connID, req); err != nil {
		return r.reject(connID, req, err)
	}
	return r.event(types.EventAck, types.Ack{Ref: req.Ref, Event: req.Name})
}

func (r *Router) dispatch(ctx context.Context, connID string, req types.Request) error {
	switch req.Name {
	case types.EventOpenSession:
		var p types.OpenSessionRequest
		if err := decode(req.Data, &p); err != nil {
			return err
		}
		_, err := r.coordinator.OpenSession(ctx, connID, p.SessionID, p.CourseID)
		return err

	case types.EventCloseSession:
		var p types.SessionRef
		if err := decode(req.Data, &p); err != nil {
			return err
		}
		return r.coordinator.CloseSession(ctx, connID, p.SessionID)

	case types.EventJoinSession:
		var p types.SessionRef
		if err := decode(req.Data, &p); err != nil {
			return err
		}
		return r.coordinator.JoinSession(ctx, connID, p.SessionID)

	case types.EventLeaveSession:
		var p types.SessionRef
		if err := decode(req.Data, &p); err != nil {
			return err
		}
		return r.coordinator.LeaveSession(ctx, connID, p.SessionID)

	case types.EventAttendanceMarked:
		var p types.AttendanceMark
		if err := decode(req.Data, &p); err != nil {
			return err
		}
		return r.coordinator.MarkAttendance(ctx, connID, p.SessionID, p)

	default:
		return ErrUnknownEvent
	}
}

// decode rejects a missing payload
func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return presence.Invalid(errors.New("missing data"))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return presence.Invalid(err)
	}
	return nil
}

func (r *Router) reject(connID string, req types.Request, err error) types.Event {
	kind := presence.KindOf(err)
	message := err.Error()
	if kind == presence.KindInternal {
		r.logger.Error("request failed", "connection_id", connID, "event", req.Name, "error", err)
		message = "internal error"
	} else {
		r.logger.Debug("request rejected", "connection_id", connID, "event", req.Name, "code", presence.CodeOf(err))
	}
	return r.event(types.EventError, types.Rejection{
		Ref:     req.Ref,
		Event:   req.Name,
		Kind:    string(kind),
		Code:    presence.CodeOf(err),
		Message: message,
	})
}

func (r *Router) event(name string, data interface{}) types.Event {
	return types.Event{
		ID:        xid.New().String(),
		Name:      name,
		Data:      data,
		Timestamp: r.now().UTC(),
	}
}

// Forget releases per-connection state after a disconnect
func (r *Router) Forget(connID string) {
	if r.limiter != nil {
		r.limiter.Forget(connID)
	}
}

// Sweep drops rate limiter state idle for longer than idle
func (r *Router) Sweep(idle time.Duration) int {
	if r.limiter == nil {
		return 0
	}
	return r.limiter.Cleanup(idle)
}
