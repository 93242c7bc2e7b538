// Package rate limits order placement per user to keep one client from
// monopolizing wallet row locks.
package rate

import (
	"context"
	"time"
)

// Limiter answers whether a key may proceed now, and if not, how long
// to wait before retrying.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error)
}
