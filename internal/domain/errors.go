package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEventNotFound          = errors.New("event not found")
	ErrEventNameRequired      = errors.New("event name required")
	ErrZoneNotFound           = errors.New("zone not found")
	ErrZoneNameRequired       = errors.New("zone name required")
	ErrInvalidZoneName        = errors.New("zone name must not contain ':'")
	ErrZoneAlreadyExists      = errors.New("zone already exists")
	ErrInvalidZoneKind        = errors.New("invalid zone kind")
	ErrInvalidCapacity        = errors.New("invalid capacity")
	ErrCapacityDecrease       = errors.New("zone capacity can only be increased")
	ErrInvalidPrice           = errors.New("invalid price")
	ErrInvalidQuantity        = errors.New("invalid quantity")
	ErrInvalidCart            = errors.New("invalid cart")
	ErrBuyerEmailRequired     = errors.New("buyer email required")
	ErrSeatAlreadySold        = errors.New("seat already sold")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrTotalMismatch          = errors.New("declared total does not match zone prices")
	ErrIdempotencyConflict    = errors.New("idempotency conflict")
	ErrSaleNotFound           = errors.New("sale not found")
	ErrTicketNotFound         = errors.New("ticket not found")
	ErrRedeemerRequired       = errors.New("redeemer identity required")
	ErrPaymentNotCompleted    = errors.New("payment not completed")
	ErrTransientConflict      = errors.New("transient storage conflict, retry the request")
	ErrInvalidID              = errors.New("invalid id")
	ErrMalformedPayload       = errors.New("malformed scan payload")
	ErrDeliveryNotConfigured  = errors.New("delivery not configured")
	ErrPaymentProviderMissing = errors.New("payment provider not configured")
	ErrPaymentAlreadyUsed     = errors.New("payment already used by another sale")
	ErrPaymentAmountMismatch  = errors.New("paid amount does not match sale total")
)

// SeatConflictError lists the requested seat keys that were already sold.
type SeatConflictError struct {
	Seats []string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSeatAlreadySold, strings.Join(e.Seats, ", "))
}

func (e *SeatConflictError) Unwrap() error { return ErrSeatAlreadySold }

// CapacityError reports a zone that cannot fit the requested quantity.
type CapacityError struct {
	Zone      string
	Requested int
	Available int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: zone %q has %d left, requested %d", ErrCapacityExceeded, e.Zone, e.Available, e.Requested)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// PaymentError carries the terminal status of a payment that did not complete.
type PaymentError struct {
	PaymentID string
	Status    PaymentStatus
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: payment %s is %s", ErrPaymentNotCompleted, e.PaymentID, e.Status)
}

func (e *PaymentError) Unwrap() error { return ErrPaymentNotCompleted }
