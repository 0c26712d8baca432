package app

import (
	"errors"

	"github.com/cimillas/boxoffice/internal/domain"
)

// Observer receives sale and check-in results for metrics.
type Observer interface {
	ObserveSale(result string)
	ObserveCheckIn(outcome domain.ScanOutcome)
}

type nopObserver struct{}

func (nopObserver) ObserveSale(string) {}
func (nopObserver) ObserveCheckIn(domain.ScanOutcome) {}

// saleResult buckets a sale error for metrics.
func saleResult(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, domain.ErrSeatAlreadySold):
		return "seat_already_sold"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrZoneNotFound):
		return "zone_not_found"
	case errors.Is(err, domain.ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, domain.ErrTransientConflict):
		return "transient_conflict"
	case errors.Is(err, domain.ErrPaymentNotCompleted):
		return "payment_not_completed"
	case errors.Is(err, domain.ErrPaymentAlreadyUsed):
		return "payment_already_used"
	case errors.Is(err, domain.ErrPaymentAmountMismatch):
		return "payment_amount_mismatch"
	default:
		return "rejected"
	}
}
