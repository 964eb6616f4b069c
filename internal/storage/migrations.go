package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type migration struct {
	sql    string
	txFunc func(ctx context.Context, tx pgx.Tx) error
}

func sqlMigration(s string) migration { return migration{sql: s} }

func txMigration(fn func(ctx context.Context, tx pgx.Tx) error) migration {
	return migration{txFunc: fn}
}

func (self *migration) Do(ctx context.Context, tx pgx.Tx) error {
	if fn := self.txFunc; fn != nil {
		if err := fn(ctx, tx); err != nil {
			return fmt.Errorf("migrate by fn: %w", err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx, self.sql); err != nil {
		return fmt.Errorf("migrate by SQL: %w", err)
	}
	return nil
}

var schemaVersion = len(migrations)

//go:embed schema.sql
var fullSchema string

// Order is important. Add new migrations at the end of the list.
//
//nolint:wrapcheck // Migrate() wraps errors
var migrations = []migration{
	sqlMigration(fullSchema),

	sqlMigration(`
CREATE INDEX jobs_pending_idx ON jobs (created_at) WHERE status = 'pending';
CREATE INDEX feeds_unresolved_favicon_idx ON feeds (id) WHERE has_favicon IS NULL;`),

	txMigration(func(ctx context.Context, tx pgx.Tx) error {
		// A found favicon without content is unresolved.
		_, err := tx.Exec(ctx, `
UPDATE feeds
   SET has_favicon = NULL, favicon = NULL, favicon_mime_type = NULL
 WHERE has_favicon AND (favicon IS NULL OR length(favicon) = 0)`)
		return err
	}),

	sqlMigration(`
ALTER TABLE feeds ADD COLUMN favicon_checked_at timestamp with time zone;
DROP INDEX feeds_unresolved_favicon_idx;
CREATE INDEX feeds_unresolved_favicon_idx
    ON feeds (favicon_checked_at NULLS FIRST, id) WHERE has_favicon IS NULL;`),
}
