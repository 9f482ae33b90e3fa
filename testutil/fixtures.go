package testutil

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fixtures writes committed rows through a pool, for tests whose code under
// test runs its own concurrent transactions. Everything it created is
// deleted when the test ends: trips (cascading to members and invitations),
// then users, then outbox rows for the phones it handed out.
type Fixtures struct {
	t    *testing.T
	pool *pgxpool.Pool

	mu     sync.Mutex
	users  []uuid.UUID
	trips  []uuid.UUID
	phones []string
}

// NewFixtures returns a Fixtures bound to pool and registers its cleanup.
func NewFixtures(t *testing.T, pool *pgxpool.Pool) *Fixtures {
	t.Helper()
	f := &Fixtures{t: t, pool: pool}
	t.Cleanup(f.cleanup)
	return f
}

// Phone returns a random E.164 number in the +1 999 range, tracked for cleanup.
// Random rather than sequential so parallel test binaries sharing one
// database do not collide on users.phone_number.
func (f *Fixtures) Phone() string {
	p := fmt.Sprintf("+1999%07d", rand.IntN(10_000_000))
	f.mu.Lock()
	f.phones = append(f.phones, p)
	f.mu.Unlock()
	return p
}

// User inserts a user with a fresh phone and returns its id and phone.
func (f *Fixtures) User(name string) (uuid.UUID, string) {
	f.t.Helper()
	phone := f.Phone()
	var id uuid.UUID
	err := f.pool.QueryRow(context.Background(),
		`INSERT INTO users (phone_number, display_name) VALUES ($1, $2) RETURNING id`,
		phone, name,
	).Scan(&id)
	if err != nil {
		f.t.Fatalf("testutil.Fixtures.User: %v", err)
	}
	f.mu.Lock()
	f.users = append(f.users, id)
	f.mu.Unlock()
	return id, phone
}

// Trip inserts a trip created by creatorID together with the creator's
// organizer member row, as the trip subsystem does.
func (f *Fixtures) Trip(creatorID uuid.UUID) uuid.UUID {
	f.t.Helper()
	var id uuid.UUID
	err := f.pool.QueryRow(context.Background(),
		`INSERT INTO trips (name, created_by) VALUES ('Fixture Trip', $1) RETURNING id`,
		creatorID,
	).Scan(&id)
	if err != nil {
		f.t.Fatalf("testutil.Fixtures.Trip: %v", err)
	}
	f.mu.Lock()
	f.trips = append(f.trips, id)
	f.mu.Unlock()
	f.Member(id, creatorID, true)
	return id
}

// Member inserts a no_response member row.
func (f *Fixtures) Member(tripID, userID uuid.UUID, organizer bool) {
	f.t.Helper()
	_, err := f.pool.Exec(context.Background(),
		`INSERT INTO members (trip_id, user_id, is_organizer) VALUES ($1, $2, $3)`,
		tripID, userID, organizer,
	)
	if err != nil {
		f.t.Fatalf("testutil.Fixtures.Member: %v", err)
	}
}

// SetOrganizer sets is_organizer on the user's member row.
func (f *Fixtures) SetOrganizer(tripID, userID uuid.UUID, organizer bool) {
	f.t.Helper()
	_, err := f.pool.Exec(context.Background(),
		`UPDATE members SET is_organizer = $3 WHERE trip_id = $1 AND user_id = $2`,
		tripID, userID, organizer,
	)
	if err != nil {
		f.t.Fatalf("testutil.Fixtures.SetOrganizer: %v", err)
	}
}

// Fill adds new users as plain members until the trip holds n rows.
func (f *Fixtures) Fill(tripID uuid.UUID, n int) {
	f.t.Helper()
	for f.Count(tripID) < n {
		id, _ := f.User("filler")
		f.Member(tripID, id, false)
	}
}

// Count returns the trip's current member count.
func (f *Fixtures) Count(tripID uuid.UUID) int {
	f.t.Helper()
	var n int
	err := f.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM members WHERE trip_id = $1`, tripID,
	).Scan(&n)
	if err != nil {
		f.t.Fatalf("testutil.Fixtures.Count: %v", err)
	}
	return n
}

func (f *Fixtures) cleanup() {
	ctx := context.Background()
	for _, q := range []struct {
		sql string
		arg any
	}{
		{`DELETE FROM trips WHERE id = ANY($1)`, f.trips},
		{`DELETE FROM users WHERE id = ANY($1)`, f.users},
		{`DELETE FROM notification_outbox WHERE phone = ANY($1)`, f.phones},
	} {
		if _, err := f.pool.Exec(ctx, q.sql, q.arg); err != nil {
			f.t.Errorf("testutil.Fixtures cleanup: %v", err)
		}
	}
}
