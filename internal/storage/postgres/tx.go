package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

const defaultMaxAttempts = 5

type txConfig struct {
	maxAttempts int
	onRetry     func(err error)
	backoff     time.Duration
}

type TxOption func(*txConfig)

// WithMaxAttempts bounds how often a transaction is executed when it keeps
// losing serialization conflicts.
func WithMaxAttempts(n int) TxOption {
	return func(c *txConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryHook is called before every re-execution.
func WithRetryHook(fn func(err error)) TxOption {
	return func(c *txConfig) {
		if fn != nil {
			c.onRetry = fn
		}
	}
}

func newTxConfig(opts []TxOption) txConfig {
	cfg := txConfig{
		maxAttempts: defaultMaxAttempts,
		onRetry:     func(error) {},
		backoff:     5 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// db picks the transaction carried by ctx or falls back to the pool.
type db struct {
	pool *pgxpool.Pool
	tx   txConfig
}

// withTx runs fn in a SERIALIZABLE transaction. When Postgres aborts it with
// a serialization failure or deadlock the whole of fn is re-executed with
// fresh reads, up to maxAttempts times. A nested call joins the outer
// transaction.
func (d db) withTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	return d.tx.retry(ctx, func() error { return d.runTx(ctx, fn) })
}

// retry calls attempt until it succeeds, fails with a non-retryable error or
// maxAttempts is reached. Exhaustion wraps domain.ErrTransientConflict.
func (c txConfig) retry(ctx context.Context, attempt func() error) error {
	var err error
	for n := 1; n <= c.maxAttempts; n++ {
		err = attempt()
		if err == nil || !isRetryable(err) {
			return err
		}
		if n == c.maxAttempts {
			break
		}
		c.onRetry(err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(n)):
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrTransientConflict, err)
}

func (d db) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func txFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

func (d db) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return d.pool.Exec(ctx, sql, args...)
}

func (d db) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return d.pool.QueryRow(ctx, sql, args...)
}

func (d db) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return d.pool.Query(ctx, sql, args...)
}

func (d db) sendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if tx := txFromContext(ctx); tx != nil {
		return tx.SendBatch(ctx, b)
	}
	return d.pool.SendBatch(ctx, b)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Unique violations on these constraints mean a concurrent transaction
// committed the same key first. Re-running reads the committed row and
// produces the precise outcome: an idempotent replay, a seat conflict or a
// reused payment.
var raceConstraints = map[string]bool{
	"sales_event_idempotency_key": true,
	"sales_payment_reference":     true,
	"sold_seats_pkey":             true,
}

func isRetryable(err error) bool {
	switch pgCode(err) {
	case "40001", "40P01":
		return true
	case "23505":
		return raceConstraints[constraintName(err)]
	}
	return false
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func isCheckViolation(err error) bool {
	return pgCode(err) == "23514"
}

func isInvalidUUID(err error) bool {
	return pgCode(err) == "22P02"
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
