package app

import (
	"context"
	"time"

	"github.com/cimillas/boxoffice/internal/delivery"
	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/rs/zerolog"
)

type PaymentAwaiter interface {
	AwaitConfirmation(ctx context.Context, paymentID string) (domain.Payment, error)
}

type SaleProcessor interface {
	ProcessSale(ctx context.Context, in ProcessSaleInput) (ProcessSaleResult, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, sale domain.Sale, tickets []domain.Ticket) (delivery.Batch, error)
}

type PaymentWaitObserver interface {
	ObservePaymentWait(status domain.PaymentStatus, d time.Duration)
}

// CheckoutService gates a sale on payment confirmation and hands the result
// to delivery.
type CheckoutService struct {
	sales     SaleProcessor
	payments  PaymentAwaiter
	delivery  Deliverer
	provider  string
	logger    zerolog.Logger
	waitStats PaymentWaitObserver
}

type CheckoutServiceOption func(*CheckoutService)

func WithCheckoutLogger(l zerolog.Logger) CheckoutServiceOption {
	return func(s *CheckoutService) { s.logger = l }
}

// WithPaymentProvider names the provider recorded on sales.
func WithPaymentProvider(name string) CheckoutServiceOption {
	return func(s *CheckoutService) {
		if name != "" {
			s.provider = name
		}
	}
}

func WithPaymentWaitObserver(o PaymentWaitObserver) CheckoutServiceOption {
	return func(s *CheckoutService) { s.waitStats = o }
}

// NewCheckoutService builds the flow. payments may be nil when no payment
// provider is configured; checkouts that reference a payment then fail.
func NewCheckoutService(sales SaleProcessor, payments PaymentAwaiter, deliverer Deliverer, opts ...CheckoutServiceOption) *CheckoutService {
	svc := &CheckoutService{
		sales:    sales,
		payments: payments,
		delivery: deliverer,
		provider: "stripe",
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CheckoutInput struct {
	Sale ProcessSaleInput
	// PaymentID references an out-of-band payment that must complete first.
	PaymentID string
}

type CheckoutResult struct {
	ProcessSaleResult
	DeliveryQueued bool
}

func (s *CheckoutService) Checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	saleIn := in.Sale
	if in.PaymentID != "" {
		if s.payments == nil {
			return CheckoutResult{}, domain.ErrPaymentProviderMissing
		}
		started := time.Now()
		payment, err := s.payments.AwaitConfirmation(ctx, in.PaymentID)
		if err != nil {
			return CheckoutResult{}, err
		}
		if s.waitStats != nil {
			s.waitStats.ObservePaymentWait(payment.Status, time.Since(started))
		}
		if payment.Status != domain.PaymentCompleted {
			s.logger.Warn().
				Str("event_id", saleIn.EventID).
				Str("payment_id", in.PaymentID).
				Str("status", string(payment.Status)).
				Msg("payment did not complete, sale not attempted")
			return CheckoutResult{}, &domain.PaymentError{PaymentID: in.PaymentID, Status: payment.Status}
		}
		saleIn.Payment = domain.PaymentInfo{
			Provider:    s.provider,
			Reference:   in.PaymentID,
			Status:      string(payment.Status),
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
		}
	}

	res, err := s.sales.ProcessSale(ctx, saleIn)
	if err != nil {
		return CheckoutResult{}, err
	}
	out := CheckoutResult{ProcessSaleResult: res}
	if !res.Created || s.delivery == nil {
		return out, nil
	}

	if _, err := s.delivery.Deliver(ctx, res.Sale, res.Tickets); err != nil {
		s.logger.Error().Err(err).Str("sale_id", res.Sale.ID).Msg("delivery hand-off failed, sale stands")
		return out, nil
	}
	out.DeliveryQueued = true
	return out, nil
}
