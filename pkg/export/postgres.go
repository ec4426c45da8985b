package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"widerow/pkg/types"
)

var errFlushed = errors.New("postgres export already flushed")

// PostgresWriter replaces the copy of one row in a Postgres table. All
// columns are streamed with COPY inside one transaction, so readers see the
// old row until Flush commits.
type PostgresWriter struct {
	ctx  context.Context
	tx   *sql.Tx
	stmt *sql.Stmt
	row  string
	done bool
}

// CreateTableSQL returns the DDL of an export table.
func CreateTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	row_key TEXT NOT NULL,
	column_key BYTEA NOT NULL,
	value BYTEA NOT NULL,
	PRIMARY KEY (row_key, column_key)
)`, pq.QuoteIdentifier(table))
}

// NewPostgresWriter creates table if needed, deletes the previous copy of
// row and starts a COPY into table.
func NewPostgresWriter(ctx context.Context, db *sql.DB, table, row string) (*PostgresWriter, error) {
	if _, err := db.ExecContext(ctx, CreateTableSQL(table)); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE row_key = $1", pq.QuoteIdentifier(table))
	if _, err := tx.ExecContext(ctx, del, row); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("delete previous row: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, "row_key", "column_key", "value"))
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("prepare copy: %w", err)
	}
	return &PostgresWriter{ctx: ctx, tx: tx, stmt: stmt, row: row}, nil
}

func (p *PostgresWriter) Write(col types.Column) error {
	if p.done {
		return errFlushed
	}
	value := col.Value
	if value == nil {
		value = []byte{}
	}
	if _, err := p.stmt.ExecContext(p.ctx, p.row, col.Key, value); err != nil {
		p.Abort()
		return fmt.Errorf("copy column %q: %w", col.Key, err)
	}
	return nil
}

// Flush ends the COPY and commits. The writer cannot be used afterwards.
func (p *PostgresWriter) Flush() error {
	if p.done {
		return errFlushed
	}
	if _, err := p.stmt.ExecContext(p.ctx); err != nil {
		p.Abort()
		return fmt.Errorf("finish copy: %w", err)
	}
	if err := p.stmt.Close(); err != nil {
		p.Abort()
		return fmt.Errorf("close copy: %w", err)
	}
	p.done = true
	if err := p.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Abort rolls the export back.
func (p *PostgresWriter) Abort() {
	p.done = true
	_ = p.stmt.Close()
	_ = p.tx.Rollback()
}
