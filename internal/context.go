package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextStaffKey ctxKey = "staffID"

func StaffIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if staffID, ok := ctx.Value(ContextStaffKey).(string); ok {
		return staffID
	}
	return ""
}

func ContextWithStaffID(ctx context.Context, staffID string) context.Context {
	return context.WithValue(ctx, ContextStaffKey, staffID)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
