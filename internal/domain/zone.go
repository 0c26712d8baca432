package domain

import (
	"strings"
	"time"
)

type ZoneKind string

const (
	ZoneKindSeated   ZoneKind = "seat-addressed"
	ZoneKindCapacity ZoneKind = "capacity-counted"
)

func (k ZoneKind) Valid() bool {
	return k == ZoneKindSeated || k == ZoneKindCapacity
}

// SeatKeySeparator joins a zone name and a seat identifier into a seat key.
const SeatKeySeparator = ":"

// Zone is a priced subdivision of an event.
type Zone struct {
	ID         string
	EventID    string
	Name       string
	Kind       ZoneKind
	PriceCents int64
	Capacity   int
	Sold       int
	CreatedAt  time.Time
}

func (z Zone) Available() int {
	if z.Sold >= z.Capacity {
		return 0
	}
	return z.Capacity - z.Sold
}

// Fits reports whether qty more units can be sold without exceeding
// capacity. It never overflows for any qty.
func (z Zone) Fits(qty int) bool {
	return qty >= 0 && qty <= z.Available()
}

// SeatKey identifies one seat of one zone within an event.
func SeatKey(zone, seat string) string {
	return zone + SeatKeySeparator + seat
}

// ValidZoneName reports whether name can be used as the zone part of a seat key.
func ValidZoneName(name string) bool {
	return name != "" && !strings.Contains(name, SeatKeySeparator)
}
