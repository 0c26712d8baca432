package http

import (
	"context"
	"io"
	"net/http"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/cimillas/boxoffice/internal/payment"
	"github.com/rs/zerolog"
)

type PaymentStatusReader interface {
	Payment(ctx context.Context, paymentID string) (domain.Payment, error)
}

type PaymentRecorder interface {
	Record(payment domain.Payment)
}

const maxWebhookBytes = 64 << 10

// HandlePaymentStatus reports the current status of a payment.
func HandlePaymentStatus(svc PaymentStatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		paymentID := r.PathValue("paymentID")
		p, err := svc.Payment(r.Context(), paymentID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, paymentStatusResponse{
			PaymentID:   paymentID,
			Status:      string(p.Status),
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
		})
	}
}

// HandleStripeWebhook verifies a Stripe delivery and records the payment
// status it carries so waiting checkouts see it on their next poll.
func HandleStripeWebhook(secret string, recorder PaymentRecorder, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		n, ok, err := payment.ParseWebhook(body, r.Header.Get("Stripe-Signature"), secret)
		if err != nil {
			logger.Warn().Err(err).Msg("stripe webhook rejected")
			writeError(w, http.StatusBadRequest, codeInvalidSignature, "invalid webhook signature")
			return
		}
		if ok {
			recorder.Record(n.Payment)
			logger.Info().
				Str("stripe_event_id", n.EventID).
				Str("payment_id", n.Payment.ID).
				Str("status", string(n.Payment.Status)).
				Int64("amount_cents", n.Payment.AmountCents).
				Msg("payment status received")
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

type paymentStatusResponse struct {
	PaymentID   string `json:"payment_id"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
}
