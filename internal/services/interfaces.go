package services

import (
	"context"
	"time"
)

// Logger emits structured service events. A nil Logger in any Deps struct
// becomes a no-op.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Clock supplies the current time. Injected so date-sensitive pricing and
// session expiry are deterministic under test.
type Clock func() time.Time

func noopLogger(context.Context, string, map[string]any) {}

func normalizeClock(clock Clock) Clock {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}
