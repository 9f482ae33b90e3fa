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

// InvitationRepo defines the persistence operations for invitations.
type InvitationRepo interface {
	// GetByID returns domain.ErrNotFound if no invitation has that id.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Invitation, error)

	// PendingPhones returns which of phones already have a pending invitation
	// on the trip.
	PendingPhones(ctx context.Context, tripID uuid.UUID, phones []string) (map[string]bool, error)

	// CreatePending inserts one pending invitation per phone and returns them
	// in the order of phones.
	CreatePending(ctx context.Context, tripID, inviterID uuid.UUID, phones []string) ([]domain.Invitation, error)

	// ListPendingByPhone returns pending invitations for phone across all trips.
	ListPendingByPhone(ctx context.Context, phone string) ([]domain.Invitation, error)

	// ListByTrip returns every invitation on the trip, oldest first, with the
	// invitee's display name when the phone belongs to an account.
	ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.InvitationWithInvitee, error)

	// MarkAccepted moves the given invitations to accepted, stamping
	// responded_at and updated_at. Returns the number of rows changed.
	MarkAccepted(ctx context.Context, ids []uuid.UUID) (int64, error)

	// Delete removes an invitation. Returns domain.ErrNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteByPhone removes every invitation on the trip for phone, whatever
	// its status. Returns the number of rows deleted.
	DeleteByPhone(ctx context.Context, tripID uuid.UUID, phone string) (int64, error)
}

type pgInvitationRepo struct {
	db db
}

// NewInvitationRepo constructs an InvitationRepo backed by the provided db connection.
func NewInvitationRepo(db db) InvitationRepo {
	return &pgInvitationRepo{db: db}
}

const invitationColumns = `id, trip_id, inviter_id, invitee_phone, status, sent_at, responded_at, created_at, updated_at`

func (r *pgInvitationRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Invitation, error) {
	q := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = @id`

	inv, err := scanInvitation(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Invitation{}, fmt.Errorf("repo.InvitationRepo.GetByID: %w", err)
	}
	return inv, nil
}

func (r *pgInvitationRepo) PendingPhones(ctx context.Context, tripID uuid.UUID, phones []string) (map[string]bool, error) {
	const q = `
		SELECT DISTINCT invitee_phone
		FROM invitations
		WHERE trip_id = @trip_id
		  AND status = 'pending'
		  AND invitee_phone = ANY(@phones)`

	pending := make(map[string]bool, len(phones))
	if len(phones) == 0 {
		return pending, nil
	}

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID, "phones": phones})
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.PendingPhones: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("repo.InvitationRepo.PendingPhones: scan: %w", err)
		}
		pending[phone] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.PendingPhones: rows: %w", err)
	}
	return pending, nil
}

func (r *pgInvitationRepo) CreatePending(ctx context.Context, tripID, inviterID uuid.UUID, phones []string) ([]domain.Invitation, error) {
	q := `
		INSERT INTO invitations (trip_id, inviter_id, invitee_phone, status)
		SELECT @trip_id, @inviter_id, p.phone, 'pending'
		FROM unnest(@phones::text[]) AS p(phone)
		RETURNING ` + invitationColumns

	if len(phones) == 0 {
		return []domain.Invitation{}, nil
	}

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{
		"trip_id":    tripID,
		"inviter_id": inviterID,
		"phones":     phones,
	})
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.CreatePending: %w", err)
	}
	defer rows.Close()

	byPhone := make(map[string]domain.Invitation, len(phones))
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.InvitationRepo.CreatePending: scan: %w", err)
		}
		byPhone[inv.InviteePhone] = inv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.CreatePending: rows: %w", err)
	}

	// RETURNING order is not guaranteed; callers get request order.
	created := make([]domain.Invitation, 0, len(phones))
	for _, phone := range phones {
		if inv, ok := byPhone[phone]; ok {
			created = append(created, inv)
		}
	}
	return created, nil
}

func (r *pgInvitationRepo) ListPendingByPhone(ctx context.Context, phone string) ([]domain.Invitation, error) {
	q := `SELECT ` + invitationColumns + `
		FROM invitations
		WHERE invitee_phone = @phone AND status = 'pending'
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"phone": phone})
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.ListPendingByPhone: %w", err)
	}
	defer rows.Close()

	invs := []domain.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.InvitationRepo.ListPendingByPhone: scan: %w", err)
		}
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.ListPendingByPhone: rows: %w", err)
	}
	return invs, nil
}

func (r *pgInvitationRepo) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]domain.InvitationWithInvitee, error) {
	const q = `
		SELECT i.id, i.trip_id, i.inviter_id, i.invitee_phone, i.status, i.sent_at,
		       i.responded_at, i.created_at, i.updated_at, u.display_name
		FROM invitations i
		LEFT JOIN users u ON u.phone_number = i.invitee_phone
		WHERE i.trip_id = @trip_id
		ORDER BY i.created_at, i.id`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.ListByTrip: %w", err)
	}
	defer rows.Close()

	invs := []domain.InvitationWithInvitee{}
	for rows.Next() {
		var (
			inv  domain.InvitationWithInvitee
			name *string
		)
		inv.Invitation, err = scanInvitation(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("repo.InvitationRepo.ListByTrip: scan: %w", err)
		}
		inv.InviteeName = name
		invs = append(invs, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.InvitationRepo.ListByTrip: rows: %w", err)
	}
	return invs, nil
}

func (r *pgInvitationRepo) MarkAccepted(ctx context.Context, ids []uuid.UUID) (int64, error) {
	const q = `
		UPDATE invitations
		SET status       = 'accepted',
		    responded_at = now(),
		    updated_at   = now()
		WHERE id = ANY(@ids)`

	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"ids": ids})
	if err != nil {
		return 0, fmt.Errorf("repo.InvitationRepo.MarkAccepted: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgInvitationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM invitations WHERE id = @id`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("repo.InvitationRepo.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.InvitationRepo.Delete: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *pgInvitationRepo) DeleteByPhone(ctx context.Context, tripID uuid.UUID, phone string) (int64, error) {
	const q = `DELETE FROM invitations WHERE trip_id = @trip_id AND invitee_phone = @phone`

	tag, err := r.db.Exec(ctx, q, pgx.NamedArgs{"trip_id": tripID, "phone": phone})
	if err != nil {
		return 0, fmt.Errorf("repo.InvitationRepo.DeleteByPhone: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanInvitation maps the invitationColumns prefix of a row into a
// domain.Invitation; extra destinations are scanned after it.
func scanInvitation(s scanner, extra ...any) (domain.Invitation, error) {
	var (
		inv               domain.Invitation
		id, trip, inviter pgtype.UUID
		status            string
	)
	dest := []any{&id, &trip, &inviter, &inv.InviteePhone, &status, &inv.SentAt,
		&inv.RespondedAt, &inv.CreatedAt, &inv.UpdatedAt}
	dest = append(dest, extra...)

	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invitation{}, domain.ErrNotFound
		}
		return domain.Invitation{}, err
	}
	inv.ID = uuid.UUID(id.Bytes)
	inv.TripID = uuid.UUID(trip.Bytes)
	inv.InviterID = uuid.UUID(inviter.Bytes)
	inv.Status = domain.InvitationStatus(status)
	return inv, nil
}
