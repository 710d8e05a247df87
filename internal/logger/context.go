package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries the connection or login a log line belongs to. Its
// non-empty fields are added to every *Ctx call.
type LogContext struct {
	ConnID    string    // Transport connection ID
	Peer      string    // Remote address
	Principal string    // Authenticated or presented principal
	Mode      string    // Authentication mode
	StartTime time.Time // When the connection or login started
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a connection.
func NewLogContext(connID, peer string) *LogContext {
	return &LogContext{
		ConnID:    connID,
		Peer:      peer,
		StartTime: time.Now(),
	}
}

// WithPrincipal returns ctx with a copy of its LogContext naming principal.
// A context without one gets a fresh LogContext.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	lc := derive(ctx)
	lc.Principal = principal
	return WithContext(ctx, lc)
}

// WithMode returns ctx with a copy of its LogContext naming mode.
func WithMode(ctx context.Context, mode string) context.Context {
	lc := derive(ctx)
	lc.Mode = mode
	return WithContext(ctx, lc)
}

func derive(ctx context.Context) *LogContext {
	if lc := FromContext(ctx); lc != nil {
		c := *lc
		return &c
	}
	return &LogContext{StartTime: time.Now()}
}
