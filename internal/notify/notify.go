// Package notify delivers registration notices to the shop. Delivery is
// best effort: providers are tried in order and failures are only logged
// and counted.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/matunokihanten/noda/internal/metrics"
)

var ErrNotificationDelivery = errors.New("notification delivery failed")

type Message struct {
	Recipient string
	Subject   string
	Body      string
}

type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Chain sends through the first provider that succeeds.
type Chain struct {
	providers []Provider
}

func NewChain(providers ...Provider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Len() int { return len(c.providers) }

// Send returns the name of the provider that delivered msg.
func (c *Chain) Send(ctx context.Context, msg Message) (string, error) {
	if len(c.providers) == 0 {
		return "", fmt.Errorf("%w: no provider configured", ErrNotificationDelivery)
	}
	var errs []error
	for _, provider := range c.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := provider.Send(ctx, msg)
		if err == nil {
			return provider.Name(), nil
		}
		metrics.NotificationFailures.WithLabelValues(provider.Name()).Inc()
		errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
	}
	return "", fmt.Errorf("%w: %w", ErrNotificationDelivery, errors.Join(errs...))
}
