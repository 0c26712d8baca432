package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cimillas/boxoffice/internal/domain"
)

const (
	codeMethodNotAllowed      = "method_not_allowed"
	codeNotFound              = "not_found"
	codeInvalidRequestBody    = "invalid_request_body"
	codeInvalidStartsAt       = "invalid_starts_at"
	codeInvalidID             = "invalid_id"
	codeEventNameRequired     = "event_name_required"
	codeZoneNameRequired      = "zone_name_required"
	codeInvalidZoneName       = "invalid_zone_name"
	codeInvalidZoneKind       = "invalid_zone_kind"
	codeInvalidQuantity       = "invalid_quantity"
	codeInvalidCapacity       = "invalid_capacity"
	codeInvalidPrice          = "invalid_price"
	codeInvalidCart           = "invalid_cart"
	codeBuyerEmailRequired    = "buyer_email_required"
	codeCapacityDecrease      = "capacity_decrease"
	codeIdempotencyConflict   = "idempotency_conflict"
	codeInsufficientCapacity  = "insufficient_capacity"
	codeSeatAlreadySold       = "seat_already_sold"
	codeTotalMismatch         = "total_mismatch"
	codeZoneNotFound          = "zone_not_found"
	codeEventNotFound         = "event_not_found"
	codeSaleNotFound          = "sale_not_found"
	codeTicketNotFound        = "ticket_not_found"
	codeZoneAlreadyExists     = "zone_already_exists"
	codePaymentNotCompleted   = "payment_not_completed"
	codePaymentAlreadyUsed    = "payment_already_used"
	codePaymentAmountMismatch = "payment_amount_mismatch"
	codeMalformedPayload      = "malformed_payload"
	codeInvalidSignature      = "invalid_signature"
	codeUnauthorized          = "unauthorized"
	codeForbidden             = "forbidden"
	codeNotConfigured         = "not_configured"
	codeTransientConflict     = "transient_conflict"
	codeTimeout               = "timeout"
	codeInternalError         = "internal_error"
)

type errorResponse struct {
	Error     string   `json:"error"`
	Code      string   `json:"code"`
	Retryable bool     `json:"retryable,omitempty"`
	Seats     []string `json:"seats,omitempty"`
	Status    string   `json:"payment_status,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorResponse(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(resp)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: typed errors unwrap to the sentinels below them.
var errorMappings = []errorMapping{
	{domain.ErrInvalidID, http.StatusNotFound, codeInvalidID},
	{domain.ErrEventNotFound, http.StatusNotFound, codeEventNotFound},
	{domain.ErrZoneNotFound, http.StatusNotFound, codeZoneNotFound},
	{domain.ErrSaleNotFound, http.StatusNotFound, codeSaleNotFound},
	{domain.ErrTicketNotFound, http.StatusNotFound, codeTicketNotFound},
	{domain.ErrEventNameRequired, http.StatusBadRequest, codeEventNameRequired},
	{domain.ErrZoneNameRequired, http.StatusBadRequest, codeZoneNameRequired},
	{domain.ErrInvalidZoneName, http.StatusBadRequest, codeInvalidZoneName},
	{domain.ErrInvalidZoneKind, http.StatusBadRequest, codeInvalidZoneKind},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, codeInvalidCapacity},
	{domain.ErrInvalidPrice, http.StatusBadRequest, codeInvalidPrice},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrInvalidCart, http.StatusBadRequest, codeInvalidCart},
	{domain.ErrBuyerEmailRequired, http.StatusBadRequest, codeBuyerEmailRequired},
	{domain.ErrMalformedPayload, http.StatusBadRequest, codeMalformedPayload},
	{domain.ErrZoneAlreadyExists, http.StatusConflict, codeZoneAlreadyExists},
	{domain.ErrCapacityDecrease, http.StatusConflict, codeCapacityDecrease},
	{domain.ErrIdempotencyConflict, http.StatusConflict, codeIdempotencyConflict},
	{domain.ErrCapacityExceeded, http.StatusConflict, codeInsufficientCapacity},
	{domain.ErrSeatAlreadySold, http.StatusConflict, codeSeatAlreadySold},
	{domain.ErrTotalMismatch, http.StatusUnprocessableEntity, codeTotalMismatch},
	{domain.ErrPaymentNotCompleted, http.StatusPaymentRequired, codePaymentNotCompleted},
	{domain.ErrPaymentAmountMismatch, http.StatusPaymentRequired, codePaymentAmountMismatch},
	{domain.ErrPaymentAlreadyUsed, http.StatusConflict, codePaymentAlreadyUsed},
	{domain.ErrRedeemerRequired, http.StatusUnauthorized, codeUnauthorized},
	{domain.ErrPaymentProviderMissing, http.StatusNotImplemented, codeNotConfigured},
	{domain.ErrDeliveryNotConfigured, http.StatusNotImplemented, codeNotConfigured},
	{domain.ErrTransientConflict, http.StatusServiceUnavailable, codeTransientConflict},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, codeTimeout},
}

// writeDomainError maps a service error to a status and stable code.
// Unknown errors become an opaque 500.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		resp := errorResponse{Error: err.Error(), Code: m.code}

		var seatErr *domain.SeatConflictError
		if errors.As(err, &seatErr) {
			resp.Seats = seatErr.Seats
		}
		var payErr *domain.PaymentError
		if errors.As(err, &payErr) {
			resp.Status = string(payErr.Status)
		}
		if m.target == domain.ErrTransientConflict {
			resp.Error = domain.ErrTransientConflict.Error()
			resp.Retryable = true
		}
		writeErrorResponse(w, m.status, resp)
		return
	}
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}
