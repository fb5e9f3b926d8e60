package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	turnKey      contextKey = "turn"
	requestIDKey contextKey = "request_id"
)

// WithSessionID adds a session id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID retrieves the session id from the context.
func SessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTurn adds the session turn counter to the context.
func WithTurn(ctx context.Context, turn int) context.Context {
	return context.WithValue(ctx, turnKey, turn)
}

// Turn retrieves the turn from the context. The second result reports
// whether a turn was set.
func Turn(ctx context.Context) (int, bool) {
	turn, ok := ctx.Value(turnKey).(int)
	return turn, ok
}

// WithRequestID adds a request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID retrieves the request id from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// contextHandler copies context fields onto each record.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id := RequestID(ctx); id != "" {
			r.AddAttrs(slog.String(string(requestIDKey), id))
		}
		if id := SessionID(ctx); id != "" {
			r.AddAttrs(slog.String(string(sessionIDKey), id))
		}
		if turn, ok := Turn(ctx); ok {
			r.AddAttrs(slog.Int(string(turnKey), turn))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
