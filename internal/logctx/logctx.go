package logctx

import (
	"context"
	"log/slog"
)

// Handler is a slog.Handler wrapper that enriches records with coordinator
// context carried in the request context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("session",
			slog.String("user_id", sd.UserID),
			slog.Bool("degraded", sd.Degraded),
		))
	}

	if rd, ok := ctx.Value(refreshDataKey{}).(*RefreshData); ok {
		r.AddAttrs(slog.Group("refresh",
			slog.String("attempt_id", rd.AttemptID),
			slog.String("trigger", rd.Trigger),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type sessionDataKey struct{}

type SessionData struct {
	UserID   string
	Degraded bool
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type refreshDataKey struct{}

type RefreshData struct {
	AttemptID string
	// Trigger names what started the attempt: "acquire", "signin",
	// "proactive", or "recovery".
	Trigger string
}

func WithRefreshData(ctx context.Context, data *RefreshData) context.Context {
	return context.WithValue(ctx, refreshDataKey{}, data)
}
