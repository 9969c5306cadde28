package pgxaudit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	audit "github.com/kafeiih/go-opaudit"
)

const insertRecordSQL = `INSERT INTO audit.audit_log (id, audit_type, description, operation_type, object_type, user_id, username, tenant, correlation_id, ip, user_agent, object_id, object_name, latency_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// PostgresRepo implements audit.Sink using any DB-compatible pool.
type PostgresRepo struct {
	pool DB
}

// NewPostgresRepo creates a new PostgresRepo.
// It accepts any DB implementation (*pgxpool.Pool, *AuditPool, or a test mock).
func NewPostgresRepo(pool DB) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// AddAudit inserts all records of one call in a single batch.
func (r *PostgresRepo) AddAudit(ctx context.Context, records []audit.Record, latencyMs int64) error {
	if len(records) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, rec := range records {
		b.Queue(insertRecordSQL,
			rec.ID, string(rec.Type), rec.Description, string(rec.OperationType), string(rec.ObjectType),
			rec.Actor.UserID, rec.Actor.Username, nullString(rec.Actor.Tenant), nullString(rec.Actor.CorrelationID),
			nullString(rec.Actor.IP), nullString(rec.Actor.UserAgent),
			objectIDArg(rec), nullString(rec.ObjectName), latencyMs, rec.CreatedAt,
		)
	}

	br := r.pool.SendBatch(ctx, b)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("inserting audit record %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing audit batch: %w", err)
	}
	return nil
}

// NameResolver resolves object names by numeric id from a table.
// It is safe for concurrent use when the pool is.
type NameResolver struct {
	pool   DB
	query  string
	logger *slog.Logger
}

// NewNameResolver looks up nameColumn by idColumn in table. The table may
// be schema qualified ("public.project"); identifiers are quoted.
func NewNameResolver(pool DB, table, idColumn, nameColumn string, logger *slog.Logger) *NameResolver {
	if logger == nil {
		logger = slog.Default()
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		pgx.Identifier{nameColumn}.Sanitize(),
		pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		pgx.Identifier{idColumn}.Sanitize(),
	)
	return &NameResolver{pool: pool, query: query, logger: logger}
}

// NameOf returns the stored name, or "" when the identity is not numeric
// or no row matches.
func (r *NameResolver) NameOf(ctx context.Context, identity string) string {
	id, err := audit.ParseID(identity)
	if err != nil {
		return ""
	}

	var name string
	if err := r.pool.QueryRow(ctx, r.query, id).Scan(&name); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("resolving object name", "id", id, "error", err)
		}
		return ""
	}
	return name
}

// nullString returns nil for empty strings, stored as SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// objectIDArg returns nil for unresolved identities.
func objectIDArg(rec audit.Record) *int64 {
	if !rec.HasObjectID() {
		return nil
	}
	id := *rec.ObjectID
	return &id
}
