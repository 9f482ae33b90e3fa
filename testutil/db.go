// Package testutil provides shared helpers for Postgres integration tests.
// Every helper skips the test when TEST_DATABASE_URL is unset, so unit tests
// run without a database.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver for database/sql

	"github.com/pkordes/tripcrew/migrations"
)

var (
	schemaOnce sync.Once
	schemaErr  error
)

// NewPool returns a *pgxpool.Pool on TEST_DATABASE_URL with the membership
// schema migrated. The first call in a test binary applies pending
// migrations; later calls reuse the result. The pool closes with the test.
//
// Use the pool directly when the code under test opens its own
// transactions (repo.NewStore); wrap it in a rolled-back tx otherwise.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := requireDSN(t)
	ensureSchema(t, dsn)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("testutil.NewPool: open pool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("testutil.NewPool: ping: %v", err)
	}

	t.Cleanup(pool.Close)
	return pool
}

// NewSQLDB returns a *sql.DB on TEST_DATABASE_URL through the pgx
// database/sql driver, for goose. The schema is left as found.
func NewSQLDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := openSQLDB(requireDSN(t))
	if err != nil {
		t.Fatalf("testutil.NewSQLDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// MustOpenSQLDB opens a *sql.DB for dsn and panics on any error.
// For TestMain, where no *testing.T exists. The caller closes it.
func MustOpenSQLDB(dsn string) *sql.DB {
	db, err := openSQLDB(dsn)
	if err != nil {
		panic("testutil.MustOpenSQLDB: " + err.Error())
	}
	return db
}

func openSQLDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ensureSchema applies the embedded migrations once per test binary.
func ensureSchema(t *testing.T, dsn string) {
	t.Helper()
	schemaOnce.Do(func() {
		db, err := openSQLDB(dsn)
		if err != nil {
			schemaErr = err
			return
		}
		defer db.Close()
		_, schemaErr = migrations.Up(context.Background(), db)
	})
	if schemaErr != nil {
		t.Fatalf("testutil: migrate test database: %v", schemaErr)
	}
}

func requireDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping integration test")
	}
	return dsn
}
