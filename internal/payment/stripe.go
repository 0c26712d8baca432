package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/paymentintent"
	"github.com/stripe/stripe-go/webhook"
)

type intentGetter interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProvider reads payment intents from Stripe.
type StripeProvider struct {
	intents intentGetter
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{
		intents: &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
	}
}

func (p *StripeProvider) Payment(ctx context.Context, paymentID string) (domain.Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.intents.Get(paymentID, params)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("get payment intent %s: %w", paymentID, err)
	}
	return domain.Payment{
		ID:          paymentID,
		Status:      intentStatus(pi),
		AmountCents: pi.Amount,
		Currency:    strings.ToLower(string(pi.Currency)),
	}, nil
}

func intentStatus(pi *stripe.PaymentIntent) domain.PaymentStatus {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.PaymentCompleted
	case stripe.PaymentIntentStatusCanceled:
		return domain.PaymentRejected
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A failed attempt sends the intent back to requires_payment_method.
		if pi.LastPaymentError != nil {
			return domain.PaymentFailed
		}
	}
	return domain.PaymentPending
}

// Notification is a payment status change pushed by Stripe.
type Notification struct {
	EventID string
	Payment domain.Payment
}

var webhookStatuses = map[string]domain.PaymentStatus{
	"payment_intent.succeeded":      domain.PaymentCompleted,
	"payment_intent.payment_failed": domain.PaymentFailed,
	"payment_intent.canceled":       domain.PaymentRejected,
}

// ParseWebhook verifies a Stripe webhook delivery and extracts the payment
// status it announces. ok is false for event types that carry no status.
func ParseWebhook(payload []byte, signatureHeader, secret string) (n Notification, ok bool, err error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, secret)
	if err != nil {
		return Notification{}, false, fmt.Errorf("verify webhook: %w", err)
	}
	status, known := webhookStatuses[event.Type]
	if !known || event.Data == nil {
		return Notification{}, false, nil
	}
	var obj struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return Notification{}, false, fmt.Errorf("decode webhook object: %w", err)
	}
	if obj.ID == "" {
		return Notification{}, false, nil
	}
	return Notification{
		EventID: event.ID,
		Payment: domain.Payment{
			ID:          obj.ID,
			Status:      status,
			AmountCents: obj.Amount,
			Currency:    strings.ToLower(obj.Currency),
		},
	}, true, nil
}
