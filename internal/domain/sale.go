package domain

import (
	"fmt"
	"sort"
	"time"
)

// MaxUnitsPerSale bounds the admission units one sale may issue.
const MaxUnitsPerSale = 100

// Cart is what a checkout asks for: quantities per zone name and, for
// seat-addressed zones, the seats to sell.
type Cart struct {
	Quantities map[string]int
	Seats      map[string][]string
}

// ZoneNames returns the zones of the cart in a stable order.
func (c Cart) ZoneNames() []string {
	names := make([]string, 0, len(c.Quantities))
	for name := range c.Quantities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Units is the number of admission units the cart asks for.
func (c Cart) Units() int {
	total := 0
	for _, q := range c.Quantities {
		total += q
	}
	return total
}

// SeatKeys returns every requested seat key in a stable order.
func (c Cart) SeatKeys() []string {
	var keys []string
	for _, zone := range c.ZoneNames() {
		for _, seat := range c.Seats[zone] {
			keys = append(keys, SeatKey(zone, seat))
		}
	}
	return keys
}

// Validate checks the cart shape. It does not consult zone definitions.
func (c Cart) Validate() error {
	if len(c.Quantities) == 0 {
		return fmt.Errorf("%w: no zones requested", ErrInvalidCart)
	}
	units := 0
	for zone, qty := range c.Quantities {
		if zone == "" {
			return fmt.Errorf("%w: empty zone name", ErrInvalidCart)
		}
		if qty <= 0 || qty > MaxUnitsPerSale {
			return fmt.Errorf("%w: zone %q quantity %d", ErrInvalidQuantity, zone, qty)
		}
		// Each term is bounded, so the running sum cannot overflow.
		if units += qty; units > MaxUnitsPerSale {
			return fmt.Errorf("%w: more than %d tickets in one sale", ErrInvalidQuantity, MaxUnitsPerSale)
		}
	}
	for zone, seats := range c.Seats {
		qty, ok := c.Quantities[zone]
		if !ok {
			return fmt.Errorf("%w: seats given for zone %q without a quantity", ErrInvalidCart, zone)
		}
		if len(seats) != qty {
			return fmt.Errorf("%w: zone %q has %d seats for quantity %d", ErrInvalidCart, zone, len(seats), qty)
		}
		seen := make(map[string]struct{}, len(seats))
		for _, seat := range seats {
			if seat == "" {
				return fmt.Errorf("%w: empty seat id in zone %q", ErrInvalidCart, zone)
			}
			if _, dup := seen[seat]; dup {
				return fmt.Errorf("%w: seat %q requested twice", ErrInvalidCart, SeatKey(zone, seat))
			}
			seen[seat] = struct{}{}
		}
	}
	return nil
}

// Equal reports whether two carts request the same thing.
func (c Cart) Equal(other Cart) bool {
	if len(c.Quantities) != len(other.Quantities) {
		return false
	}
	for zone, qty := range c.Quantities {
		if other.Quantities[zone] != qty {
			return false
		}
	}
	a, b := c.SeatKeys(), other.SeatKeys()
	if len(a) != len(b) {
		return false
	}
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type Buyer struct {
	Email string
	Name  string
}

// PaymentInfo is the payment metadata recorded with a sale.
type PaymentInfo struct {
	Provider    string `json:"provider,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Status      string `json:"status,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// Sale is the immutable record of one committed checkout.
type Sale struct {
	ID                 string
	EventID            string
	IdempotencyKey     string
	Cart               Cart
	Buyer              Buyer
	TotalCents         int64
	DeclaredTotalCents int64
	Payment            PaymentInfo
	CreatedAt          time.Time
}
