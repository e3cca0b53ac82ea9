package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/parser"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresWriter upserts records into a table keyed by product id.
type PostgresWriter struct {
	ctx     context.Context
	pool    *pgxpool.Pool
	table   string
	upsert  string
	mu      sync.Mutex
	written int64
}

// NewPostgresWriter connects to dsn and creates table when missing. table may
// be schema-qualified ("analytics.products").
func NewPostgresWriter(ctx context.Context, dsn, table string) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	ident := quoteTable(table)
	if _, err := pool.Exec(ctx, createTableSQL(ident)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table %s: %w", ident, err)
	}

	return &PostgresWriter{
		ctx:    ctx,
		pool:   pool,
		table:  ident,
		upsert: upsertSQL(ident),
	}, nil
}

// Write upserts a batch in one round trip.
func (pw *PostgresWriter) Write(records []*models.ProductRecord) error {
	if len(records) == 0 {
		return nil
	}
	pw.mu.Lock()
	defer pw.mu.Unlock()

	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(pw.upsert, recordArgs(r)...)
	}
	br := pw.pool.SendBatch(pw.ctx, b)
	for range records {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert record: %w", err)
		}
		pw.written += tag.RowsAffected()
	}
	return br.Close()
}

// Close releases the connection pool.
func (pw *PostgresWriter) Close() error {
	pw.pool.Close()
	return nil
}

// Validate ensures at least one row was written.
func (pw *PostgresWriter) Validate() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.written <= 0 {
		return fmt.Errorf("no rows written to %s", pw.table)
	}
	return nil
}

func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func sqlType(kind parser.Kind) string {
	switch kind {
	case parser.KindFloat:
		return "DOUBLE PRECISION"
	case parser.KindInt:
		return "BIGINT"
	case parser.KindBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func createTableSQL(table string) string {
	defs := make([]string, 0, len(parser.Columns)+1)
	for _, col := range parser.Columns {
		def := pgx.Identifier{col.Name}.Sanitize() + " " + sqlType(col.Kind)
		if col.Name == "id" {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	defs = append(defs, `"harvested_at" TIMESTAMPTZ NOT NULL DEFAULT NOW()`)
	return "CREATE TABLE IF NOT EXISTS " + table + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
}

func upsertSQL(table string) string {
	names := make([]string, len(parser.Columns))
	params := make([]string, len(parser.Columns))
	updates := make([]string, 0, len(parser.Columns))
	for i, col := range parser.Columns {
		name := pgx.Identifier{col.Name}.Sanitize()
		names[i] = name
		params[i] = fmt.Sprintf("$%d", i+1)
		if col.Name != "id" {
			updates = append(updates, name+" = EXCLUDED."+name)
		}
	}
	updates = append(updates, `"harvested_at" = NOW()`)
	return "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ")\n" +
		"VALUES (" + strings.Join(params, ", ") + ")\n" +
		"ON CONFLICT (\"id\") DO UPDATE SET " + strings.Join(updates, ", ")
}

func recordArgs(r *models.ProductRecord) []any {
	args := make([]any, len(parser.Columns))
	for i, col := range parser.Columns {
		args[i] = col.Value(r)
	}
	return args
}
