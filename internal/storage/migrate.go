package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"

	"feedkeeper.app/internal/logging"
)

// Migrate brings the database schema to the latest version.
func (s *Storage) Migrate(ctx context.Context) error {
	currentVersion, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	log := logging.FromContext(ctx).With(
		slog.Int("latest_version", schemaVersion))
	if currentVersion == schemaVersion {
		log.Info("Database schema is up to date",
			slog.Int("current_version", currentVersion))
		return nil
	}

	log.Info("Running database migrations",
		slog.Int("current_version", currentVersion))
	for v := currentVersion; v < schemaVersion; v++ {
		if err := s.applyVersion(ctx, v); err != nil {
			return err
		}
		log.Debug("Applied migration", slog.Int("version", v+1))
	}
	return nil
}

func (s *Storage) schemaVersion(ctx context.Context) (int, error) {
	rows, _ := s.db.Query(ctx, `
SELECT EXISTS (
  SELECT FROM pg_tables WHERE tablename = 'schema_version')`)

	exists, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[bool])
	if err != nil {
		return 0, fmt.Errorf("storage: looking for schema_version table: %w", err)
	} else if !exists {
		return 0, nil
	}

	rows, _ = s.db.Query(ctx,
		`SELECT CAST(version AS INTEGER) FROM schema_version`)
	ver, err := pgx.CollectExactlyOneRow(rows, pgx.RowTo[int])
	if err != nil {
		return 0, fmt.Errorf("storage: unable fetch schema version: %w", err)
	}
	return ver, nil
}

// applyVersion runs migrations[v] and records v+1 in the same transaction.
// The first migration creates schema_version itself.
func (s *Storage) applyVersion(ctx context.Context, v int) error {
	nextVersion := v + 1
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := migrations[v].Do(ctx, tx); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		} else if v == 0 {
			return nil
		}

		_, err := tx.Exec(ctx, `UPDATE schema_version SET version = $1`,
			strconv.Itoa(nextVersion))
		if err != nil {
			return fmt.Errorf("update version: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: migration %d -> %d: %w", v, nextVersion, err)
	}
	return nil
}

// SchemaUpToDate returns an error if the database schema is behind the
// binary.
func (s *Storage) SchemaUpToDate(ctx context.Context) error {
	currentVersion, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	if currentVersion < schemaVersion {
		return fmt.Errorf(
			`storage: the database schema is not up to date: current=v%d expected=v%d`,
			currentVersion, schemaVersion)
	}
	return nil
}

// SchemaVersion returns the current and the expected schema versions.
func (s *Storage) SchemaVersion(ctx context.Context) (current, expected int,
	err error,
) {
	current, err = s.schemaVersion(ctx)
	return current, schemaVersion, err
}
