// Package testutil provides a migrated PostgreSQL database to integration
// tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"feedkeeper.app/internal/storage"
)

// DatabaseURLEnv names a variable with the URL of an existing server.
// When set, every test gets its own database on that server instead of a
// container.
const DatabaseURLEnv = "TEST_DATABASE_URL"

// NewStorage returns a Storage connected to an empty, migrated database. The
// test is skipped when neither TEST_DATABASE_URL nor Docker is available.
func NewStorage(t testing.TB) *storage.Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	ctx := context.Background()
	connStr := os.Getenv(DatabaseURLEnv)
	if connStr == "" {
		connStr = startContainer(t, ctx)
	} else {
		connStr = createDatabase(t, ctx, connStr)
	}

	store, err := storage.New(ctx, connStr, 10, 0, time.Hour)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { store.Close(ctx) })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func startContainer(t testing.TB, ctx context.Context) string {
	t.Helper()
	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("feedkeeper_test"),
		tcpostgres.WithUsername("feedkeeper_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return connStr
}

func createDatabase(t testing.TB, ctx context.Context, connStr string) string {
	t.Helper()
	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse %s: %v", DatabaseURLEnv, err)
	}

	admin, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	defer admin.Close(ctx)

	name := "feedkeeper_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	ident := pgx.Identifier{name}.Sanitize()
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+ident); err != nil {
		t.Fatalf("create database: %v", err)
	}

	t.Cleanup(func() {
		conn, err := pgx.ConnectConfig(ctx, cfg)
		if err != nil {
			t.Logf("drop database %s: %v", name, err)
			return
		}
		defer conn.Close(ctx)
		_, err = conn.Exec(ctx, "DROP DATABASE IF EXISTS "+ident+" WITH (FORCE)")
		if err != nil {
			t.Logf("drop database %s: %v", name, err)
		}
	})

	cfg.Database = name
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, name)
}
