// Package pgxaudit provides a PostgreSQL audit sink, a table-backed
// identity resolver, and an AuditPool wrapper that sets session variables
// for DB-level audit triggers.
package pgxaudit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	audit "github.com/kafeiih/go-opaudit"
)

// DB abstracts the pgxpool.Pool methods used by repositories.
// Both *pgxpool.Pool and *AuditPool satisfy this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// TxStarter is a DB that can open transactions, such as *pgxpool.Pool.
type TxStarter interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AuditPool sets the acting user as transaction-local session variables
// (app.user_id, app.username, ...) around writes, so triggers can
// attribute row changes. Exec and SendBatch run inside a transaction
// when the context carries an actor and is not marked skip; reads pass
// through directly.
type AuditPool struct {
	pool TxStarter
}

// NewAuditPool creates a new AuditPool wrapping the given pool.
func NewAuditPool(pool TxStarter) *AuditPool {
	return &AuditPool{pool: pool}
}

// Query passes through to the underlying pool (reads don't need audit context).
func (p *AuditPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.pool.Query(ctx, sql, args...)
}

// QueryRow passes through to the underlying pool.
func (p *AuditPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// Exec runs sql with the actor's session variables set.
func (p *AuditPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx, err := p.begin(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	if tx == nil {
		return p.pool.Exec(ctx, sql, args...)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return tag, err
	}
	if err := tx.Commit(ctx); err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("committing audited exec: %w", err)
	}
	return tag, nil
}

// SendBatch sends b with the actor's session variables set. The
// transaction commits when the returned results are closed without error.
func (p *AuditPool) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	tx, err := p.begin(ctx)
	if err != nil {
		return errBatchResults{err: err}
	}
	if tx == nil {
		return p.pool.SendBatch(ctx, b)
	}
	return &txBatchResults{BatchResults: tx.SendBatch(ctx, b), ctx: ctx, tx: tx}
}

// begin opens a transaction carrying the actor's session variables. It
// returns a nil Tx when the context needs no audit attribution.
func (p *AuditPool) begin(ctx context.Context) (pgx.Tx, error) {
	actor := audit.ActorFrom(ctx)
	if actor == nil || audit.ShouldSkip(ctx) {
		return nil, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning audited transaction: %w", err)
	}
	for key, val := range sessionConfig(*actor) {
		if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", key, val); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
	}
	return tx, nil
}

// sessionConfig maps the actor onto the app.* settings read by triggers.
func sessionConfig(a audit.Actor) map[string]string {
	return map[string]string{
		"app.user_id":        a.UserID,
		"app.username":       a.Username,
		"app.tenant":         a.Tenant,
		"app.correlation_id": a.CorrelationID,
		"app.ip":             a.IP,
		"app.user_agent":     a.UserAgent,
	}
}

// txBatchResults commits its transaction on a clean Close.
type txBatchResults struct {
	pgx.BatchResults
	ctx    context.Context
	tx     pgx.Tx
	failed bool
}

func (r *txBatchResults) Exec() (pgconn.CommandTag, error) {
	tag, err := r.BatchResults.Exec()
	if err != nil {
		r.failed = true
	}
	return tag, err
}

func (r *txBatchResults) Close() error {
	if err := r.BatchResults.Close(); err != nil || r.failed {
		_ = r.tx.Rollback(r.ctx)
		if err == nil {
			err = fmt.Errorf("audited batch rolled back")
		}
		return err
	}
	if err := r.tx.Commit(r.ctx); err != nil {
		return fmt.Errorf("committing audited batch: %w", err)
	}
	return nil
}

// errBatchResults reports err from every call.
type errBatchResults struct {
	err error
}

func (r errBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, r.err }
func (r errBatchResults) Query() (pgx.Rows, error)        { return nil, r.err }
func (r errBatchResults) QueryRow() pgx.Row                { return errRow{err: r.err} }
func (r errBatchResults) Close() error                     { return r.err }

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }
