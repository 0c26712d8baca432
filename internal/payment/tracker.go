package payment

import (
	"context"
	"sync"

	"github.com/cimillas/boxoffice/internal/domain"
)

// Tracker remembers terminal payments pushed by webhooks and answers from
// them before asking the fallback provider. A webhook therefore ends a
// running poll at its next tick.
type Tracker struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment
	fallback Provider
}

// NewTracker wraps fallback, which may be nil when only webhooks report
// status. Unknown payments are then PENDING.
func NewTracker(fallback Provider) *Tracker {
	return &Tracker{
		payments: make(map[string]domain.Payment),
		fallback: fallback,
	}
}

// Record stores a pushed payment. A terminal payment is never replaced.
func (t *Tracker) Record(payment domain.Payment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if current, ok := t.payments[payment.ID]; ok && current.Status.Terminal() {
		return
	}
	t.payments[payment.ID] = payment
}

func (t *Tracker) Payment(ctx context.Context, paymentID string) (domain.Payment, error) {
	t.mu.RLock()
	payment, ok := t.payments[paymentID]
	t.mu.RUnlock()
	if ok && payment.Status.Terminal() {
		return payment, nil
	}
	if t.fallback == nil {
		return domain.Payment{ID: paymentID, Status: domain.PaymentPending}, nil
	}
	payment, err := t.fallback.Payment(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.Status.Terminal() {
		t.Record(payment)
	}
	return payment, nil
}
