package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SaleRepository struct {
	db
}

func NewSaleRepository(pool *pgxpool.Pool, opts ...TxOption) *SaleRepository {
	return &SaleRepository{db: db{pool: pool, tx: newTxConfig(opts)}}
}

func (r *SaleRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.withTx(ctx, fn)
}

func (r *SaleRepository) GetEventInventory(ctx context.Context, eventID string) (domain.Event, error) {
	return getEvent(ctx, r.db, eventID)
}

const saleColumns = `id, event_id, idempotency_key, quantities, seats, buyer_email, buyer_name,
	total_cents, declared_total_cents, payment, created_at`

func scanSale(row pgx.Row) (domain.Sale, error) {
	var (
		sale domain.Sale
		key  *string
	)
	err := row.Scan(&sale.ID, &sale.EventID, &key, &sale.Cart.Quantities, &sale.Cart.Seats,
		&sale.Buyer.Email, &sale.Buyer.Name, &sale.TotalCents, &sale.DeclaredTotalCents,
		&sale.Payment, &sale.CreatedAt)
	if key != nil {
		sale.IdempotencyKey = *key
	}
	if len(sale.Cart.Seats) == 0 {
		sale.Cart.Seats = nil
	}
	return sale, err
}

func (r *SaleRepository) FindSaleByIdempotencyKey(ctx context.Context, eventID, key string) (*domain.Sale, error) {
	sale, err := scanSale(r.queryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE event_id = $1 AND idempotency_key = $2`,
		eventID, key))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("find sale by idempotency key: %w", err)
	}
	return &sale, nil
}

// FindSaleByPayment returns the sale a provider payment already paid for, or
// nil.
func (r *SaleRepository) FindSaleByPayment(ctx context.Context, provider, reference string) (*domain.Sale, error) {
	sale, err := scanSale(r.queryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE payment->>'provider' = $1 AND payment->>'reference' = $2`,
		provider, reference))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find sale by payment: %w", err)
	}
	return &sale, nil
}

func (r *SaleRepository) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := scanSale(r.queryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Sale{}, domain.ErrSaleNotFound
		}
		if isInvalidUUID(err) {
			return domain.Sale{}, domain.ErrInvalidID
		}
		return domain.Sale{}, fmt.Errorf("get sale: %w", err)
	}
	return sale, nil
}

func (r *SaleRepository) ListTicketsBySale(ctx context.Context, saleID string) ([]domain.Ticket, error) {
	rows, err := r.query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE sale_id = $1 ORDER BY position ASC`, saleID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	tickets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Ticket, error) {
		return scanTicket(row)
	})
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("scan tickets: %w", err)
	}
	return tickets, nil
}

func (r *SaleRepository) FindSoldSeats(ctx context.Context, eventID string, seatKeys []string) ([]string, error) {
	rows, err := r.query(ctx,
		`SELECT seat_key FROM sold_seats WHERE event_id = $1 AND seat_key = ANY($2) ORDER BY seat_key`,
		eventID, seatKeys)
	if err != nil {
		return nil, fmt.Errorf("find sold seats: %w", err)
	}
	sold, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("scan sold seats: %w", err)
	}
	return sold, nil
}

func (r *SaleRepository) CreateSale(ctx context.Context, sale domain.Sale) error {
	const stmt = `
INSERT INTO sales (id, event_id, idempotency_key, quantities, seats, buyer_email, buyer_name,
	total_cents, declared_total_cents, payment, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`
	var key *string
	if sale.IdempotencyKey != "" {
		key = &sale.IdempotencyKey
	}
	seats := sale.Cart.Seats
	if seats == nil {
		seats = map[string][]string{}
	}
	_, err := r.exec(ctx, stmt, sale.ID, sale.EventID, key, sale.Cart.Quantities, seats,
		sale.Buyer.Email, sale.Buyer.Name, sale.TotalCents, sale.DeclaredTotalCents,
		sale.Payment, sale.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrEventNotFound
		}
		return fmt.Errorf("create sale: %w", err)
	}
	return nil
}

// CreateTickets writes every ticket keyed by its id. Re-sending a ticket
// that already exists leaves the stored row as it is.
func (r *SaleRepository) CreateTickets(ctx context.Context, tickets []domain.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	const stmt = `
INSERT INTO tickets (id, event_id, sale_id, position, zone, seat, attendee_name, buyer_email, signature, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for i, t := range tickets {
		batch.Queue(stmt, t.ID, t.EventID, t.SaleID, i, t.Zone, t.Seat, t.AttendeeName,
			t.BuyerEmail, t.Signature, string(t.State), t.CreatedAt)
	}
	results := r.sendBatch(ctx, batch)
	for range tickets {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			if isForeignKeyViolation(err) {
				return domain.ErrSaleNotFound
			}
			return fmt.Errorf("create tickets: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("create tickets: %w", err)
	}
	return nil
}

// ApplyInventoryDelta increments the zone and event counters and records the
// sold seat keys. Counters only move by relative increments, and the
// capacity bound is re-checked by the UPDATE itself.
func (r *SaleRepository) ApplyInventoryDelta(ctx context.Context, delta domain.InventoryDelta) error {
	zoneIDs := make([]string, 0, len(delta.SoldByZoneID))
	for id := range delta.SoldByZoneID {
		zoneIDs = append(zoneIDs, id)
	}
	sort.Strings(zoneIDs)

	for _, id := range zoneIDs {
		qty := delta.SoldByZoneID[id]
		tag, err := r.exec(ctx, `
UPDATE zones SET sold = sold + $3
WHERE id = $1 AND event_id = $2 AND sold + $3 <= capacity`,
			id, delta.EventID, qty)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			return fmt.Errorf("increment zone %s: %w", id, err)
		}
		if tag.RowsAffected() == 1 {
			continue
		}

		var name string
		var capacity, sold int
		err = r.queryRow(ctx, `SELECT name, capacity, sold FROM zones WHERE id = $1 AND event_id = $2`, id, delta.EventID).
			Scan(&name, &capacity, &sold)
		if err != nil {
			if err == pgx.ErrNoRows {
				return domain.ErrZoneNotFound
			}
			return fmt.Errorf("read zone %s: %w", id, err)
		}
		zone := domain.Zone{Name: name, Capacity: capacity, Sold: sold}
		return &domain.CapacityError{Zone: name, Requested: qty, Available: zone.Available()}
	}

	if len(delta.SeatKeys) > 0 {
		_, err := r.exec(ctx, `
INSERT INTO sold_seats (event_id, seat_key, sale_id)
SELECT $1, key, $3 FROM unnest($2::text[]) AS key`,
			delta.EventID, delta.SeatKeys, delta.SaleID)
		if err != nil {
			return fmt.Errorf("record sold seats: %w", err)
		}
	}

	tag, err := r.exec(ctx, `
UPDATE events SET tickets_sold = tickets_sold + $2, revenue_cents = revenue_cents + $3
WHERE id = $1`,
		delta.EventID, delta.Tickets, delta.RevenueCents)
	if err != nil {
		return fmt.Errorf("increment event counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}
