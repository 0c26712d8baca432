package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CheckInRepository struct {
	db
}

func NewCheckInRepository(pool *pgxpool.Pool, opts ...TxOption) *CheckInRepository {
	return &CheckInRepository{db: db{pool: pool, tx: newTxConfig(opts)}}
}

func (r *CheckInRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.withTx(ctx, fn)
}

const ticketColumns = `id, event_id, sale_id, zone, seat, attendee_name, buyer_email, signature,
	state, redeemed_at, redeemed_by, created_at`

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var (
		t          domain.Ticket
		state      string
		redeemedBy *string
	)
	err := row.Scan(&t.ID, &t.EventID, &t.SaleID, &t.Zone, &t.Seat, &t.AttendeeName, &t.BuyerEmail,
		&t.Signature, &state, &t.RedeemedAt, &redeemedBy, &t.CreatedAt)
	t.State = domain.RedemptionState(state)
	if redeemedBy != nil {
		t.RedeemedBy = *redeemedBy
	}
	return t, err
}

func (r *CheckInRepository) GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error) {
	t, err := scanTicket(r.queryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// RedeemTicket is a check-and-set on the redemption state. It reports false
// when the ticket was already redeemed.
func (r *CheckInRepository) RedeemTicket(ctx context.Context, ticketID string, at time.Time, redeemer string) (bool, error) {
	tag, err := r.exec(ctx, `
UPDATE tickets SET state = 'redeemed', redeemed_at = $2, redeemed_by = $3
WHERE id = $1 AND state = 'unredeemed'`,
		ticketID, at, redeemer)
	if err != nil {
		return false, fmt.Errorf("redeem ticket: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, ticketID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check ticket: %w", err)
	}
	if !exists {
		return false, domain.ErrTicketNotFound
	}
	return false, nil
}

// AppendScan inserts one audit entry. The table rejects updates and deletes.
func (r *CheckInRepository) AppendScan(ctx context.Context, entry domain.ScanLogEntry) error {
	_, err := r.exec(ctx, `
INSERT INTO scan_log (id, ticket_id, event_id, outcome, redeemer, legacy_signature, scanned_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.TicketID, entry.EventID, string(entry.Outcome), entry.Redeemer,
		entry.LegacySignature, entry.ScannedAt)
	if err != nil {
		return fmt.Errorf("append scan: %w", err)
	}
	return nil
}

// ListScans returns the entries of one event in append order.
func (r *CheckInRepository) ListScans(ctx context.Context, eventID string) ([]domain.ScanLogEntry, error) {
	rows, err := r.query(ctx, `
SELECT id, ticket_id, event_id, outcome, redeemer, legacy_signature, scanned_at
FROM scan_log
WHERE event_id = $1
ORDER BY seq ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ScanLogEntry, error) {
		var (
			e       domain.ScanLogEntry
			outcome string
		)
		err := row.Scan(&e.ID, &e.TicketID, &e.EventID, &outcome, &e.Redeemer, &e.LegacySignature, &e.ScannedAt)
		e.Outcome = domain.ScanOutcome(outcome)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return entries, nil
}
