package observability

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	observabilityKey = contextKey("OBSERVABILITY")
)

// Observability holds request scoped Loggers.
// nil *Observability are safe to use.
type Observability struct {
	Logger    *slog.Logger
	RequestID string
}

// Log returns inner Logger or slog.Default().
func (self *Observability) Log() *slog.Logger {
	if (nil == self) || (nil == self.Logger) {
		return slog.Default()
	}

	return self.Logger
}

// GetObservability returns ctx Observability.
func GetObservability(ctx context.Context) *Observability {
	var rv *Observability
	rv, _ = ctx.Value(observabilityKey).(*Observability)
	return rv
}

// SetObservability returns new Context containing obs.
func SetObservability(ctx context.Context, obs *Observability) context.Context {
	return context.WithValue(ctx, observabilityKey, obs)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	if obs := GetObservability(ctx); obs != nil {
		return obs.RequestID
	}
	return ""
}
