// Package repo contains all database access logic for the membership service.
// Each resource has its own file with an interface and a Postgres implementation.
// No business logic lives here, only SQL and type mapping.
package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test, giving free
// per-test isolation without any manual cleanup.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// beginner is a db that can open a transaction. *pgxpool.Pool opens a real
// transaction; pgx.Tx opens a savepoint.
type beginner interface {
	db
	Begin(ctx context.Context) (pgx.Tx, error)
}

// txOptionsBeginner is implemented by *pgxpool.Pool and *pgx.Conn.
type txOptionsBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Repos groups the repositories the membership service works with.
// The same set is available outside a transaction (Store) and inside one
// (the argument to Store.WithTx).
type Repos interface {
	Trips() TripRepo
	Users() UserRepo
	Members() MemberRepo
	Invitations() InvitationRepo
	Outbox() OutboxRepo
}

// Store is the root data access interface.
type Store interface {
	Repos

	// WithTx runs fn inside one read-committed transaction. If fn returns an
	// error the transaction is rolled back, otherwise it is committed.
	// Repos passed to fn must not be used after fn returns.
	WithTx(ctx context.Context, fn func(tx Repos) error) error
}

// pgRepos binds every repository to the same db handle.
type pgRepos struct {
	db db
}

func (r pgRepos) Trips() TripRepo             { return NewTripRepo(r.db) }
func (r pgRepos) Users() UserRepo             { return NewUserRepo(r.db) }
func (r pgRepos) Members() MemberRepo         { return NewMemberRepo(r.db) }
func (r pgRepos) Invitations() InvitationRepo { return NewInvitationRepo(r.db) }
func (r pgRepos) Outbox() OutboxRepo          { return NewOutboxRepo(r.db) }

// pgStore is the Postgres implementation of Store.
type pgStore struct {
	pgRepos
	conn beginner
}

// NewStore constructs a Store backed by the provided connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx so WithTx nests
// as a savepoint and everything is rolled back with the outer transaction.
func NewStore(conn beginner) Store {
	return &pgStore{pgRepos: pgRepos{db: conn}, conn: conn}
}

// WithTx opens a read-committed transaction on a pool, or a savepoint when
// the store is already bound to a transaction.
func (s *pgStore) WithTx(ctx context.Context, fn func(tx Repos) error) error {
	run := func(tx pgx.Tx) error { return fn(pgRepos{db: tx}) }

	// Errors from fn are returned unchanged so callers can match domain
	// sentinels; only begin/commit failures get the repo prefix.
	var fnErr error
	wrapped := func(tx pgx.Tx) error {
		fnErr = run(tx)
		return fnErr
	}

	var err error
	if b, ok := s.conn.(txOptionsBeginner); ok {
		err = pgx.BeginTxFunc(ctx, b, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, wrapped)
	} else {
		err = pgx.BeginFunc(ctx, s.conn, wrapped)
	}
	if err != nil && fnErr == nil {
		return fmt.Errorf("repo.Store.WithTx: %w", err)
	}
	return err
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing scan helpers to
// be reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}
