// Package payment implements the asynchronous payment confirmation contract:
// a payment moves from PENDING to exactly one of COMPLETED, REJECTED, FAILED
// or EXPIRED, and the caller owns the deadline.
package payment

import (
	"context"
	"time"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/rs/zerolog"
)

// Provider reports the current state of a payment at the provider.
type Provider interface {
	Payment(ctx context.Context, paymentID string) (domain.Payment, error)
}

const (
	DefaultPollInterval = 3 * time.Second
	DefaultTimeout      = 60 * time.Second
)

// Poller waits for a payment to settle by querying its Provider on a fixed
// interval.
type Poller struct {
	provider Provider
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithLogger(l zerolog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

func NewPoller(provider Provider, opts ...PollerOption) *Poller {
	p := &Poller{
		provider: provider,
		interval: DefaultPollInterval,
		timeout:  DefaultTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AwaitConfirmation polls until the payment reaches a terminal status. When
// the hard timeout passes first the result is EXPIRED whatever the provider
// says. Provider errors are logged and polling continues.
func (p *Poller) AwaitConfirmation(ctx context.Context, paymentID string) (domain.Payment, error) {
	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		payment, err := p.provider.Payment(ctx, paymentID)
		switch {
		case err != nil:
			p.logger.Warn().Err(err).Str("payment_id", paymentID).Msg("payment status query failed")
		case payment.Status.Terminal():
			return payment, nil
		}

		select {
		case <-ctx.Done():
			return domain.Payment{}, ctx.Err()
		case <-deadline.C:
			p.logger.Warn().Str("payment_id", paymentID).Dur("timeout", p.timeout).Msg("payment confirmation timed out")
			return domain.Payment{ID: paymentID, Status: domain.PaymentExpired}, nil
		case <-ticker.C:
		}
	}
}
