package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/tripcrew/internal/domain"
)

// TripRepo reads trips. Trips are owned by another subsystem; the membership
// service only needs their existence, their creator, and a row lock.
type TripRepo interface {
	// GetByID retrieves a single trip by its UUID primary key.
	// Returns domain.ErrNotFound if no trip with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error)

	// Exists reports whether a trip with that ID exists.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)

	// Lock takes a FOR UPDATE lock on the given trips, in id order, and
	// returns the ids that exist. Must be called inside a transaction; the
	// lock is what serializes concurrent membership writes on one trip.
	Lock(ctx context.Context, ids ...uuid.UUID) ([]uuid.UUID, error)
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

// GetByID retrieves a trip by primary key.
func (r *pgTripRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	const q = `
		SELECT id, name, created_by, created_at, updated_at
		FROM trips
		WHERE id = @id`

	row := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id})
	result, err := scanTrip(row)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}
	return result, nil
}

// Exists is the cheap check used to tell "no such trip" apart from "not allowed".
func (r *pgTripRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM trips WHERE id = @id)`

	var exists bool
	if err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}).Scan(&exists); err != nil {
		return false, fmt.Errorf("repo.TripRepo.Exists: %w", err)
	}
	return exists, nil
}

// Lock locks trip rows in ascending id order so two transactions locking
// overlapping sets cannot deadlock.
func (r *pgTripRepo) Lock(ctx context.Context, ids ...uuid.UUID) ([]uuid.UUID, error) {
	const q = `
		SELECT id
		FROM trips
		WHERE id = ANY(@ids)
		ORDER BY id
		FOR UPDATE`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.Lock: %w", err)
	}
	defer rows.Close()

	locked := make([]uuid.UUID, 0, len(ids))
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repo.TripRepo.Lock: scan: %w", err)
		}
		locked = append(locked, uuid.UUID(id.Bytes))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TripRepo.Lock: rows: %w", err)
	}
	return locked, nil
}

// scanTrip maps a single database row into a domain.Trip.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		t         domain.Trip
		id        pgtype.UUID
		createdBy pgtype.UUID
	)

	err := s.Scan(&id, &t.Name, &createdBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	t.ID = uuid.UUID(id.Bytes)
	t.CreatedBy = uuid.UUID(createdBy.Bytes)
	return t, nil
}
