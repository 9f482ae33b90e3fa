package repo_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/tripcrew/internal/domain"
	"github.com/pkordes/tripcrew/testutil"
)

// newTestTx opens a transaction against the test database. The transaction is
// rolled back automatically when the test finishes, giving free per-test
// isolation.
func newTestTx(t *testing.T) pgx.Tx {
	t.Helper()
	pool := testutil.NewPool(t)

	tx, err := pool.Begin(context.Background())
	require.NoError(t, err, "begin transaction")

	t.Cleanup(func() {
		_ = tx.Rollback(context.Background())
	})
	return tx
}

var phoneSeq atomic.Int64

// nextPhone returns an E.164 number not used by any other fixture in this run.
func nextPhone() string {
	return fmt.Sprintf("+1555%07d", phoneSeq.Add(1))
}

// mustCreateUser inserts a user with a fresh phone number.
// Users and trips are owned elsewhere, so fixtures write them with raw SQL.
func mustCreateUser(t *testing.T, tx pgx.Tx, name string) domain.User {
	t.Helper()
	u := domain.User{PhoneNumber: nextPhone(), DisplayName: name}
	err := tx.QueryRow(context.Background(),
		`INSERT INTO users (phone_number, display_name, handles)
		 VALUES ($1, $2, '{"instagram":"@`+name+`"}') RETURNING id`,
		u.PhoneNumber, u.DisplayName,
	).Scan(&u.ID)
	require.NoError(t, err, "create user")
	u.Handles = map[string]string{"instagram": "@" + name}
	return u
}

// mustCreateTrip inserts a trip created by creatorID. No member row is added.
func mustCreateTrip(t *testing.T, tx pgx.Tx, creatorID uuid.UUID) domain.Trip {
	t.Helper()
	trip := domain.Trip{Name: "Test Trip", CreatedBy: creatorID}
	err := tx.QueryRow(context.Background(),
		`INSERT INTO trips (name, created_by) VALUES ($1, $2) RETURNING id`,
		trip.Name, creatorID,
	).Scan(&trip.ID)
	require.NoError(t, err, "create trip")
	return trip
}

// mustAddMember inserts a member row with the given role and status.
func mustAddMember(t *testing.T, tx pgx.Tx, tripID, userID uuid.UUID, organizer bool, status domain.MemberStatus) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := tx.QueryRow(context.Background(),
		`INSERT INTO members (trip_id, user_id, is_organizer, status) VALUES ($1, $2, $3, $4) RETURNING id`,
		tripID, userID, organizer, string(status),
	).Scan(&id)
	require.NoError(t, err, "add member")
	return id
}
