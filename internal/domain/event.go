package domain

import "time"

// Event is the inventory aggregate: its zones, per-zone sold counters and
// aggregate sales counters. Sold seat keys are stored alongside it and
// queried by key rather than loaded in full.
type Event struct {
	ID           string
	Name         string
	StartsAt     time.Time
	Location     string
	Zones        []Zone
	TicketsSold  int64
	RevenueCents int64
}

// Zone returns the zone with the given name.
func (e Event) Zone(name string) (Zone, bool) {
	for _, z := range e.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return Zone{}, false
}

// SoldByZone returns the sold counter of every zone keyed by zone name.
func (e Event) SoldByZone() map[string]int {
	out := make(map[string]int, len(e.Zones))
	for _, z := range e.Zones {
		out[z.Name] = z.Sold
	}
	return out
}

// InventoryDelta is the set of monotonic increments one sale applies to an
// event. It is only ever applied inside the sale transaction.
type InventoryDelta struct {
	EventID      string
	SaleID       string
	SoldByZoneID map[string]int
	SeatKeys     []string
	Tickets      int64
	RevenueCents int64
}
