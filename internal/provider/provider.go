package provider

import (
	"context"

	"github.com/kursadbilgin/delivery-tracker/internal/domain"
)

// Provider delivers one side effect (email, SMS or delivery note) to the
// outside world. Errors should be *SendError so the dispatcher can tell
// retryable failures apart.
type Provider interface {
	Send(ctx context.Context, sideEffect domain.SideEffect) (*Receipt, error)
}

// Receipt is what the provider told us about an accepted send. It is stored
// on the side-effect attempt row.
type Receipt struct {
	StatusCode int
	Body       string
	MessageID  string
}
