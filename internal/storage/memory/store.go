// Package memory is an in-process store with the same transactional
// contract as the Postgres store. It backs STORAGE_DRIVER=memory and the
// concurrency tests.
//
// A transaction holds the store lock for its whole duration and undoes the
// writes it made when its function fails, so transactions are serializable
// and never observe each other's partial writes. Rollback cost is
// proportional to what the transaction wrote, not to the size of the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/google/uuid"
)

type Store struct {
	mu   sync.Mutex
	data *state
}

func New() *Store {
	return &Store{data: newState()}
}

type txKey struct{}

type state struct {
	events     map[string]domain.Event
	eventOrder []string
	zones      map[string]domain.Zone
	zoneOrder  []string
	soldSeats  map[string]string
	sales      map[string]domain.Sale
	saleKeys   map[string]string
	salePays   map[string]string
	tickets    map[string]domain.Ticket
	saleTix    map[string][]string
	scans      []domain.ScanLogEntry

	// undo is set while a transaction runs.
	undo *undoLog
}

func newState() *state {
	return &state{
		events:    make(map[string]domain.Event),
		zones:     make(map[string]domain.Zone),
		soldSeats: make(map[string]string),
		sales:     make(map[string]domain.Sale),
		saleKeys:  make(map[string]string),
		salePays:  make(map[string]string),
		tickets:   make(map[string]domain.Ticket),
		saleTix:   make(map[string][]string),
	}
}

// undoLog restores, in reverse order, every value a transaction replaced.
type undoLog []func()

func (u *undoLog) push(fn func()) {
	if u != nil {
		*u = append(*u, fn)
	}
}

func (u undoLog) rollback() {
	for i := len(u) - 1; i >= 0; i-- {
		u[i]()
	}
}

// remember records how to restore m[k] before it is written.
func remember[K comparable, V any](u *undoLog, m map[K]V, k K) {
	if u == nil {
		return
	}
	old, had := m[k]
	u.push(func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}

// truncateOnUndo records the current length of a slice that is about to
// grow.
func truncateOnUndo[T any](u *undoLog, slice *[]T) {
	n := len(*slice)
	u.push(func() { *slice = (*slice)[:n] })
}

// WithTx runs fn atomically. Calls nested inside fn join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var log undoLog
	s.data.undo = &log
	defer func() { s.data.undo = nil }()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		log.rollback()
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// run gives fn the live state, taking the lock unless ctx is inside a
// transaction of this store.
func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func seatKey(eventID, key string) string {
	return eventID + "\x00" + key
}

func idempotencyKey(eventID, key string) string {
	return eventID + "\x00" + key
}

func paymentKey(provider, reference string) string {
	return provider + "\x00" + reference
}

func (st *state) zonesOf(eventID string) []domain.Zone {
	var zones []domain.Zone
	for _, id := range st.zoneOrder {
		if z := st.zones[id]; z.EventID == eventID {
			zones = append(zones, z)
		}
	}
	return zones
}

func (st *state) event(eventID string) (domain.Event, error) {
	if !validUUID(eventID) {
		return domain.Event{}, domain.ErrInvalidID
	}
	event, ok := st.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	event.Zones = st.zonesOf(eventID)
	return event, nil
}

// Admin

func (s *Store) CreateEvent(ctx context.Context, event domain.Event) error {
	return s.run(ctx, func(st *state) error {
		if !validUUID(event.ID) {
			return domain.ErrInvalidID
		}
		event.Zones = nil
		remember(st.undo, st.events, event.ID)
		truncateOnUndo(st.undo, &st.eventOrder)
		st.events[event.ID] = event
		st.eventOrder = append(st.eventOrder, event.ID)
		return nil
	})
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	var events []domain.Event
	err := s.run(ctx, func(st *state) error {
		for _, id := range st.eventOrder {
			event := st.events[id]
			event.Zones = st.zonesOf(id)
			events = append(events, event)
		}
		return nil
	})
	return events, err
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	var event domain.Event
	err := s.run(ctx, func(st *state) error {
		var err error
		event, err = st.event(eventID)
		return err
	})
	return event, err
}

func (s *Store) CreateZone(ctx context.Context, zone domain.Zone) error {
	return s.run(ctx, func(st *state) error {
		if !validUUID(zone.ID) || !validUUID(zone.EventID) {
			return domain.ErrInvalidID
		}
		if _, ok := st.events[zone.EventID]; !ok {
			return domain.ErrEventNotFound
		}
		for _, z := range st.zonesOf(zone.EventID) {
			if z.Name == zone.Name {
				return domain.ErrZoneAlreadyExists
			}
		}
		zone.Sold = 0
		remember(st.undo, st.zones, zone.ID)
		truncateOnUndo(st.undo, &st.zoneOrder)
		st.zones[zone.ID] = zone
		st.zoneOrder = append(st.zoneOrder, zone.ID)
		return nil
	})
}

func (s *Store) ListZonesByEvent(ctx context.Context, eventID string) ([]domain.Zone, error) {
	var zones []domain.Zone
	err := s.run(ctx, func(st *state) error {
		event, err := st.event(eventID)
		zones = event.Zones
		return err
	})
	return zones, err
}

func (s *Store) IncreaseZoneCapacity(ctx context.Context, eventID, zoneID string, capacity int) (domain.Zone, error) {
	var zone domain.Zone
	err := s.run(ctx, func(st *state) error {
		if !validUUID(eventID) || !validUUID(zoneID) {
			return domain.ErrInvalidID
		}
		z, ok := st.zones[zoneID]
		if !ok || z.EventID != eventID {
			return domain.ErrZoneNotFound
		}
		if capacity < z.Capacity {
			return domain.ErrCapacityDecrease
		}
		z.Capacity = capacity
		remember(st.undo, st.zones, zoneID)
		st.zones[zoneID] = z
		zone = z
		return nil
	})
	return zone, err
}

// Sales

func (s *Store) GetEventInventory(ctx context.Context, eventID string) (domain.Event, error) {
	return s.GetEvent(ctx, eventID)
}

func (s *Store) FindSaleByIdempotencyKey(ctx context.Context, eventID, key string) (*domain.Sale, error) {
	var sale *domain.Sale
	err := s.run(ctx, func(st *state) error {
		if id, ok := st.saleKeys[idempotencyKey(eventID, key)]; ok {
			found := st.sales[id]
			sale = &found
		}
		return nil
	})
	return sale, err
}

// FindSaleByPayment returns the sale a payment already paid for, or nil.
func (s *Store) FindSaleByPayment(ctx context.Context, provider, reference string) (*domain.Sale, error) {
	var sale *domain.Sale
	err := s.run(ctx, func(st *state) error {
		if id, ok := st.salePays[paymentKey(provider, reference)]; ok {
			found := st.sales[id]
			sale = &found
		}
		return nil
	})
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	var sale domain.Sale
	err := s.run(ctx, func(st *state) error {
		if !validUUID(saleID) {
			return domain.ErrInvalidID
		}
		found, ok := st.sales[saleID]
		if !ok {
			return domain.ErrSaleNotFound
		}
		sale = found
		return nil
	})
	return sale, err
}

func (s *Store) ListTicketsBySale(ctx context.Context, saleID string) ([]domain.Ticket, error) {
	var tickets []domain.Ticket
	err := s.run(ctx, func(st *state) error {
		for _, id := range st.saleTix[saleID] {
			tickets = append(tickets, st.tickets[id])
		}
		return nil
	})
	return tickets, err
}

func (s *Store) FindSoldSeats(ctx context.Context, eventID string, seatKeys []string) ([]string, error) {
	var sold []string
	err := s.run(ctx, func(st *state) error {
		for _, key := range seatKeys {
			if _, ok := st.soldSeats[seatKey(eventID, key)]; ok {
				sold = append(sold, key)
			}
		}
		return nil
	})
	return sold, err
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) error {
	return s.run(ctx, func(st *state) error {
		if _, ok := st.sales[sale.ID]; ok {
			return nil
		}
		var key, pay string
		if sale.IdempotencyKey != "" {
			key = idempotencyKey(sale.EventID, sale.IdempotencyKey)
			if _, ok := st.saleKeys[key]; ok {
				return domain.ErrIdempotencyConflict
			}
		}
		if sale.Payment.Reference != "" {
			pay = paymentKey(sale.Payment.Provider, sale.Payment.Reference)
			if _, ok := st.salePays[pay]; ok {
				return domain.ErrPaymentAlreadyUsed
			}
		}
		if key != "" {
			remember(st.undo, st.saleKeys, key)
			st.saleKeys[key] = sale.ID
		}
		if pay != "" {
			remember(st.undo, st.salePays, pay)
			st.salePays[pay] = sale.ID
		}
		remember(st.undo, st.sales, sale.ID)
		st.sales[sale.ID] = sale
		return nil
	})
}

// CreateTickets keys every write by ticket id; an id that already exists is
// left untouched.
func (s *Store) CreateTickets(ctx context.Context, tickets []domain.Ticket) error {
	return s.run(ctx, func(st *state) error {
		for _, t := range tickets {
			if _, ok := st.tickets[t.ID]; ok {
				continue
			}
			remember(st.undo, st.tickets, t.ID)
			remember(st.undo, st.saleTix, t.SaleID)
			st.tickets[t.ID] = t
			st.saleTix[t.SaleID] = append(st.saleTix[t.SaleID], t.ID)
		}
		return nil
	})
}

func (s *Store) ApplyInventoryDelta(ctx context.Context, delta domain.InventoryDelta) error {
	return s.run(ctx, func(st *state) error {
		event, ok := st.events[delta.EventID]
		if !ok {
			return domain.ErrEventNotFound
		}

		var taken []string
		for _, key := range delta.SeatKeys {
			if _, ok := st.soldSeats[seatKey(delta.EventID, key)]; ok {
				taken = append(taken, key)
			}
		}
		if len(taken) > 0 {
			sort.Strings(taken)
			return &domain.SeatConflictError{Seats: taken}
		}

		zoneIDs := make([]string, 0, len(delta.SoldByZoneID))
		for id := range delta.SoldByZoneID {
			zoneIDs = append(zoneIDs, id)
		}
		sort.Strings(zoneIDs)
		for _, id := range zoneIDs {
			z, ok := st.zones[id]
			if !ok || z.EventID != delta.EventID {
				return domain.ErrZoneNotFound
			}
			if qty := delta.SoldByZoneID[id]; !z.Fits(qty) {
				return &domain.CapacityError{Zone: z.Name, Requested: qty, Available: z.Available()}
			}
		}

		for _, id := range zoneIDs {
			z := st.zones[id]
			z.Sold += delta.SoldByZoneID[id]
			remember(st.undo, st.zones, id)
			st.zones[id] = z
		}
		for _, key := range delta.SeatKeys {
			k := seatKey(delta.EventID, key)
			remember(st.undo, st.soldSeats, k)
			st.soldSeats[k] = delta.SaleID
		}
		event.TicketsSold += delta.Tickets
		event.RevenueCents += delta.RevenueCents
		remember(st.undo, st.events, delta.EventID)
		st.events[delta.EventID] = event
		return nil
	})
}

// Check-in

func (s *Store) GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.run(ctx, func(st *state) error {
		t, ok := st.tickets[ticketID]
		if !ok {
			return domain.ErrTicketNotFound
		}
		ticket = t
		return nil
	})
	return ticket, err
}

func (s *Store) RedeemTicket(ctx context.Context, ticketID string, at time.Time, redeemer string) (bool, error) {
	var redeemed bool
	err := s.run(ctx, func(st *state) error {
		t, ok := st.tickets[ticketID]
		if !ok {
			return domain.ErrTicketNotFound
		}
		if t.Redeemed() {
			return nil
		}
		t.State = domain.StateRedeemed
		t.RedeemedAt = &at
		t.RedeemedBy = redeemer
		remember(st.undo, st.tickets, ticketID)
		st.tickets[ticketID] = t
		redeemed = true
		return nil
	})
	return redeemed, err
}

// AppendScan only ever appends; the store exposes no way to change or drop
// an entry.
func (s *Store) AppendScan(ctx context.Context, entry domain.ScanLogEntry) error {
	return s.run(ctx, func(st *state) error {
		truncateOnUndo(st.undo, &st.scans)
		st.scans = append(st.scans, entry)
		return nil
	})
}

func (s *Store) ListScans(ctx context.Context, eventID string) ([]domain.ScanLogEntry, error) {
	var scans []domain.ScanLogEntry
	err := s.run(ctx, func(st *state) error {
		for _, e := range st.scans {
			if e.EventID == eventID {
				scans = append(scans, e)
			}
		}
		return nil
	})
	return scans, err
}
