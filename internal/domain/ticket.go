package domain

import "time"

type RedemptionState string

const (
	StateUnredeemed RedemptionState = "unredeemed"
	StateRedeemed   RedemptionState = "redeemed"
)

// Ticket is one issued admission unit. Its ID doubles as the storage write
// key, so re-issuing the same write never produces a second row.
type Ticket struct {
	ID           string
	EventID      string
	SaleID       string
	Zone         string
	Seat         string
	AttendeeName string
	BuyerEmail   string
	Signature    string
	State        RedemptionState
	RedeemedAt   *time.Time
	RedeemedBy   string
	CreatedAt    time.Time

	// SignedID is the externally exposed identifier. It is derived from ID
	// and Signature and is not persisted.
	SignedID string
}

func (t Ticket) Redeemed() bool {
	return t.State == StateRedeemed
}

// SeatKey returns the seat key of a seat-addressed ticket, or "".
func (t Ticket) SeatKey() string {
	if t.Seat == "" {
		return ""
	}
	return SeatKey(t.Zone, t.Seat)
}
