package postgres

import (
	"context"
	"fmt"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AdminRepository struct {
	db
}

func NewAdminRepository(pool *pgxpool.Pool, opts ...TxOption) *AdminRepository {
	return &AdminRepository{db: db{pool: pool, tx: newTxConfig(opts)}}
}

const eventColumns = `id, name, starts_at, location, tickets_sold, revenue_cents`

const zoneColumns = `id, event_id, name, kind, price_cents, capacity, sold, created_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var event domain.Event
	err := row.Scan(&event.ID, &event.Name, &event.StartsAt, &event.Location, &event.TicketsSold, &event.RevenueCents)
	return event, err
}

func scanZone(row pgx.Row) (domain.Zone, error) {
	var zone domain.Zone
	var kind string
	err := row.Scan(&zone.ID, &zone.EventID, &zone.Name, &kind, &zone.PriceCents, &zone.Capacity, &zone.Sold, &zone.CreatedAt)
	zone.Kind = domain.ZoneKind(kind)
	return zone, err
}

func (r *AdminRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	const stmt = `
INSERT INTO events (id, name, starts_at, location)
VALUES ($1, $2, $3, $4)`
	_, err := r.exec(ctx, stmt, event.ID, event.Name, event.StartsAt, event.Location)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// ListEvents returns every event with its zones, oldest first.
func (r *AdminRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Event, error) {
		return scanEvent(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	if len(events) == 0 {
		return events, nil
	}

	zones, err := r.listZones(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	byEvent := make(map[string][]domain.Zone, len(events))
	for _, z := range zones {
		byEvent[z.EventID] = append(byEvent[z.EventID], z)
	}
	for i := range events {
		events[i].Zones = byEvent[events[i].ID]
	}
	return events, nil
}

func (r *AdminRepository) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	return getEvent(ctx, r.db, eventID)
}

// getEvent loads an event and its zones. Inside a sale transaction the
// reads are part of the serializable snapshot, so a concurrent sale that
// commits first forces this one to retry.
func getEvent(ctx context.Context, d db, eventID string) (domain.Event, error) {
	event, err := scanEvent(d.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Event{}, domain.ErrInvalidID
		}
		if err == pgx.ErrNoRows {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}

	zones, err := listZones(ctx, d, `SELECT `+zoneColumns+` FROM zones WHERE event_id = $1 ORDER BY created_at ASC, id ASC`, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	event.Zones = zones
	return event, nil
}

func (r *AdminRepository) listZones(ctx context.Context, sql string, args ...any) ([]domain.Zone, error) {
	return listZones(ctx, r.db, sql, args...)
}

func listZones(ctx context.Context, d db, sql string, args ...any) ([]domain.Zone, error) {
	rows, err := d.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	zones, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Zone, error) {
		return scanZone(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan zones: %w", err)
	}
	return zones, nil
}

func (r *AdminRepository) CreateZone(ctx context.Context, zone domain.Zone) error {
	const stmt = `
INSERT INTO zones (id, event_id, name, kind, price_cents, capacity, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.exec(ctx, stmt, zone.ID, zone.EventID, zone.Name, string(zone.Kind), zone.PriceCents, zone.Capacity, zone.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isUniqueViolation(err) {
			return domain.ErrZoneAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return domain.ErrEventNotFound
		}
		return fmt.Errorf("create zone: %w", err)
	}
	return nil
}

func (r *AdminRepository) ListZonesByEvent(ctx context.Context, eventID string) ([]domain.Zone, error) {
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)`
	var exists bool
	if err := r.queryRow(ctx, existsQuery, eventID).Scan(&exists); err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("check event: %w", err)
	}
	if !exists {
		return nil, domain.ErrEventNotFound
	}
	return r.listZones(ctx, `SELECT `+zoneColumns+` FROM zones WHERE event_id = $1 ORDER BY created_at ASC, id ASC`, eventID)
}

// IncreaseZoneCapacity raises capacity in place. It runs in its own
// transaction so it serializes with concurrent sales of the same zone.
func (r *AdminRepository) IncreaseZoneCapacity(ctx context.Context, eventID, zoneID string, capacity int) (domain.Zone, error) {
	var zone domain.Zone
	err := r.withTx(ctx, func(ctx context.Context) error {
		current, err := scanZone(r.queryRow(ctx,
			`SELECT `+zoneColumns+` FROM zones WHERE id = $1 AND event_id = $2 FOR UPDATE`,
			zoneID, eventID))
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			if err == pgx.ErrNoRows {
				return domain.ErrZoneNotFound
			}
			return fmt.Errorf("lock zone: %w", err)
		}
		if capacity < current.Capacity {
			return domain.ErrCapacityDecrease
		}

		if _, err := r.exec(ctx, `UPDATE zones SET capacity = $2 WHERE id = $1`, zoneID, capacity); err != nil {
			return fmt.Errorf("update capacity: %w", err)
		}
		current.Capacity = capacity
		zone = current
		return nil
	})
	return zone, err
}
