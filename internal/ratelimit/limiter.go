package ratelimit

import "context"

// RateLimiter throttles outbound side-effect sends per kind (email, sms,
// delivery_note), shared across every worker process.
type RateLimiter interface {
	Allow(ctx context.Context, kind string) (bool, error)
	Wait(ctx context.Context, kind string) error
}
