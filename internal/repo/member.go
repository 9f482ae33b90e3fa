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

// MemberRepo defines the persistence operations for trip members.
// Single-row reads are scoped by tripID so a member id from another trip
// is indistinguishable from a missing one.
type MemberRepo interface {
	// GetByID returns domain.ErrNotFound if memberID is not a member of tripID.
	GetByID(ctx context.Context, tripID, memberID uuid.UUID) (domain.Member, error)

	// GetByUser returns the user's membership on the trip, or domain.ErrNotFound.
	GetByUser(ctx context.Context, tripID, userID uuid.UUID) (domain.Member, error)

	// CountByTrip returns the number of member rows on the trip.
	CountByTrip(ctx context.Context, tripID uuid.UUID) (int, error)

	// CountOrganizers returns the number of members with is_organizer = true.
	CountOrganizers(ctx context.Context, tripID uuid.UUID) (int, error)

	// CountByTrips returns the member count per trip for the given trips.
	// Trips with no members are absent from the map.
	CountByTrips(ctx context.Context, tripIDs []uuid.UUID) (map[uuid.UUID]int, error)

	// ExistingKeys returns the subset of keys that already have a member row.
	ExistingKeys(ctx context.Context, keys []domain.MemberKey) (map[domain.MemberKey]bool, error)

	// CreateNoResponse inserts a no_response, non-organizer member for each key.
	// Keys that already have a row are left untouched and not returned.
	CreateNoResponse(ctx context.Context, keys []domain.MemberKey) ([]domain.Member, error)

	// UpdateStatus sets the RSVP status on the user's own membership row.
	// Returns domain.ErrNotFound if the user is not a member of the trip.
	UpdateStatus(ctx context.Context, tripID, userID uuid.UUID, status domain.MemberStatus) error

	// UpdateRole sets is_organizer on a member row.
	// Returns domain.ErrNotFound if no such member exists on the trip.
	UpdateRole(ctx context.Context, tripID, memberID uuid.UUID, isOrganizer bool) error

	// Delete removes a member row; dependent per-member rows cascade.
	// Returns domain.ErrNotFound if no such member exists on the trip.
	Delete(ctx context.Context, tripID, memberID uuid.UUID) error

	// GetProfile returns the member joined with the user's profile,
	// phone number included.
	GetProfile(ctx context.Context, tripID, memberID uuid.UUID) (domain.MemberWithProfile, error)

	// ListProfiles returns all members of the trip joined with their profiles,
	// phone numbers included, ordered by join time.
	ListProfiles(ctx context.Context, tripID uuid.UUID) ([]domain.MemberWithProfile, error)
}

type pgMemberRepo struct {
	db db
}

// NewMemberRepo constructs a MemberRepo backed by the provided db connection.
func NewMemberRepo(db db) MemberRepo {
	return &pgMemberRepo{db: db}
}

const memberColumns = `id, trip_id, user_id, status, is_organizer, created_at, updated_at`

func (r *pgMemberRepo) GetByID(ctx context.Context, tripID, memberID uuid.UUID) (domain.Member, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE id = @id AND trip_id = @trip_id`

	m, err := scanMember(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": memberID, "trip_id": tripID}))
	if err != nil {
		return domain.Member{}, fmt.Errorf("repo.MemberRepo.GetByID: %w", err)
	}
	return m, nil
}

func (r *pgMemberRepo) GetByUser(ctx context.Context, tripID, userID uuid.UUID) (domain.Member, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE trip_id = @trip_id AND user_id = @user_id`

	m, err := scanMember(r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID, "user_id": userID}))
	if err != nil {
		return domain.Member{}, fmt.Errorf("repo.MemberRepo.GetByUser: %w", err)
	}
	return m, nil
}

func (r *pgMemberRepo) CountByTrip(ctx context.Context, tripID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM members WHERE trip_id = @trip_id`

	var n int
	if err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID}).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo.MemberRepo.CountByTrip: %w", err)
	}
	return n, nil
}

func (r *pgMemberRepo) CountOrganizers(ctx context.Context, tripID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM members WHERE trip_id = @trip_id AND is_organizer`

	var n int
	if err := r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID}).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo.MemberRepo.CountOrganizers: %w", err)
	}
	return n, nil
}

func (r *pgMemberRepo) CountByTrips(ctx context.Context, tripIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	const q = `
		SELECT trip_id, count(*)
		FROM members
		WHERE trip_id = ANY(@trip_ids)
		GROUP BY trip_id`

	counts := make(map[uuid.UUID]int, len(tripIDs))
	if len(tripIDs) == 0 {
		return counts, nil
	}

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_ids": tripIDs})
	if err != nil {
		return nil, fmt.Errorf("repo.MemberRepo.CountByTrips: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id pgtype.UUID
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("repo.MemberRepo.CountByTrips: scan: %w", err)
		}
		counts[uuid.UUID(id.Bytes)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.MemberRepo.CountByTrips: rows: %w", err)
	}
	return counts, nil
}

func (r *pgMemberRepo) ExistingKeys(ctx context.Context, keys []domain.MemberKey) (map[domain.MemberKey]bool, error) {
	const q = `
		SELECT m.trip_id, m.user_id
		FROM members m
		JOIN unnest(@trip_ids::uuid[], @user_ids::uuid[]) AS k(trip_id, user_id)
		  ON m.trip_id = k.trip_id AND m.user_id = k.user_id`

	existing := make(map[domain.MemberKey]bool, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	tripIDs, userIDs := splitKeys(keys)
	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_ids": tripIDs, "user_ids": userIDs})
	if err != nil {
		return nil, fmt.Errorf("repo.MemberRepo.ExistingKeys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tripID, userID pgtype.UUID
		if err := rows.Scan(&tripID, &userID); err != nil {
			return nil, fmt.Errorf("repo.MemberRepo.ExistingKeys: scan: %w", err)
		}
		existing[domain.MemberKey{TripID: uuid.UUID(tripID.Bytes), UserID: uuid.UUID(userID.Bytes)}] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.MemberRepo.ExistingKeys: rows: %w", err)
	}
	return existing, nil
}

// CreateNoResponse relies on members_trip_user_unique as a backstop; the
// service has already filtered existing keys under the trip lock.
func (r *pgMemberRepo) CreateNoResponse(ctx context.Context, keys []domain.MemberKey) ([]domain.Member, error) {
	q := `
		INSERT INTO members (trip_id, user_id, status, is_organizer)
		SELECT k.trip_id, k.user_id, 'no_response', false
		FROM unnest(@trip_ids::uuid[], @user_ids::uuid[]) AS k(trip_id, user_id)
		ON CONFLICT (trip_id, user_id) DO NOTHING
		RETURNING ` + memberColumns

	if len(keys) == 0 {
		return []domain.Member{}, nil
	}

	tripIDs, userIDs := splitKeys(keys)
	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_ids": tripIDs, "user_ids": userIDs})
	if err != nil {
		return nil, fmt.Errorf("repo.MemberRepo.CreateNoResponse: %w", err)
	}
	defer rows.Close()

	created := []domain.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.MemberRepo.CreateNoResponse: scan: %w", err)
		}
		created = append(created, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.MemberRepo.CreateNoResponse: rows: %w", err)
	}
	return created, nil
}

func (r *pgMemberRepo) UpdateStatus(ctx context.Context, tripID, userID uuid.UUID, status domain.MemberStatus) error {
	const q = `
		UPDATE members
		SET status     = @status,
		    updated_at = now()
		WHERE trip_id = @trip_id AND user_id = @user_id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"trip_id": tripID,
		"user_id": userID,
		"status":  string(status),
	})
	if err != nil {
		return fmt.Errorf("repo.MemberRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.MemberRepo.UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *pgMemberRepo) UpdateRole(ctx context.Context, tripID, memberID uuid.UUID, isOrganizer bool) error {
	const q = `
		UPDATE members
		SET is_organizer = @is_organizer,
		    updated_at   = now()
		WHERE id = @id AND trip_id = @trip_id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{
		"id":           memberID,
		"trip_id":      tripID,
		"is_organizer": isOrganizer,
	})
	if err != nil {
		return fmt.Errorf("repo.MemberRepo.UpdateRole: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.MemberRepo.UpdateRole: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *pgMemberRepo) Delete(ctx context.Context, tripID, memberID uuid.UUID) error {
	const q = `DELETE FROM members WHERE id = @id AND trip_id = @trip_id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": memberID, "trip_id": tripID})
	if err != nil {
		return fmt.Errorf("repo.MemberRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.MemberRepo.Delete: %w", domain.ErrNotFound)
	}
	return nil
}

const profileSelect = `
		SELECT m.id, m.user_id, u.display_name, u.profile_photo_url, u.handles,
		       u.phone_number, m.status, m.is_organizer, m.created_at
		FROM members m
		JOIN users u ON u.id = m.user_id`

func (r *pgMemberRepo) GetProfile(ctx context.Context, tripID, memberID uuid.UUID) (domain.MemberWithProfile, error) {
	q := profileSelect + ` WHERE m.id = @id AND m.trip_id = @trip_id`

	p, err := scanProfile(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": memberID, "trip_id": tripID}))
	if err != nil {
		return domain.MemberWithProfile{}, fmt.Errorf("repo.MemberRepo.GetProfile: %w", err)
	}
	return p, nil
}

func (r *pgMemberRepo) ListProfiles(ctx context.Context, tripID uuid.UUID) ([]domain.MemberWithProfile, error) {
	q := profileSelect + ` WHERE m.trip_id = @trip_id ORDER BY m.created_at, m.id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.MemberRepo.ListProfiles: %w", err)
	}
	defer rows.Close()

	profiles := []domain.MemberWithProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.MemberRepo.ListProfiles: scan: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.MemberRepo.ListProfiles: rows: %w", err)
	}
	return profiles, nil
}

func scanMember(s scanner) (domain.Member, error) {
	var (
		m              domain.Member
		id, trip, user pgtype.UUID
		status         string
	)
	err := s.Scan(&id, &trip, &user, &status, &m.IsOrganizer, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Member{}, domain.ErrNotFound
		}
		return domain.Member{}, err
	}
	m.ID = uuid.UUID(id.Bytes)
	m.TripID = uuid.UUID(trip.Bytes)
	m.UserID = uuid.UUID(user.Bytes)
	m.Status = domain.MemberStatus(status)
	return m, nil
}

func scanProfile(s scanner) (domain.MemberWithProfile, error) {
	var (
		p        domain.MemberWithProfile
		id, user pgtype.UUID
		phone    string
		status   string
	)
	err := s.Scan(&id, &user, &p.DisplayName, &p.ProfilePhotoURL, &p.Handles,
		&phone, &status, &p.IsOrganizer, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MemberWithProfile{}, domain.ErrNotFound
		}
		return domain.MemberWithProfile{}, err
	}
	p.ID = uuid.UUID(id.Bytes)
	p.UserID = uuid.UUID(user.Bytes)
	p.PhoneNumber = &phone
	p.Status = domain.MemberStatus(status)
	return p, nil
}

// splitKeys turns keys into the parallel arrays unnest expects.
func splitKeys(keys []domain.MemberKey) (tripIDs, userIDs []uuid.UUID) {
	tripIDs = make([]uuid.UUID, len(keys))
	userIDs = make([]uuid.UUID, len(keys))
	for i, k := range keys {
		tripIDs[i] = k.TripID
		userIDs[i] = k.UserID
	}
	return tripIDs, userIDs
}
