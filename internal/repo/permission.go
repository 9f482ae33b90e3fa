package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pkordes/tripcrew/internal/domain"
)

// PermissionRepo answers role questions about a user on a trip.
// A trip's creator is always an organizer, with or without a member row.
// A trip that does not exist yields false for every question.
type PermissionRepo struct {
	db db
}

// NewPermissionRepo constructs a PermissionRepo backed by the provided db connection.
func NewPermissionRepo(db db) *PermissionRepo {
	return &PermissionRepo{db: db}
}

const membershipQuery = `
	SELECT
		EXISTS (SELECT 1 FROM members WHERE trip_id = @trip_id AND user_id = @user_id),
		EXISTS (SELECT 1 FROM members WHERE trip_id = @trip_id AND user_id = @user_id AND is_organizer),
		EXISTS (SELECT 1 FROM trips WHERE id = @trip_id AND created_by = @user_id)`

// membership returns (has member row, member row is organizer, is creator).
func (r *PermissionRepo) membership(ctx context.Context, userID, tripID uuid.UUID) (bool, bool, bool, error) {
	var member, organizer, creator bool
	err := r.db.QueryRow(ctx, membershipQuery, pgx.NamedArgs{
		"trip_id": tripID,
		"user_id": userID,
	}).Scan(&member, &organizer, &creator)
	return member, organizer, creator, err
}

// IsOrganizer reports whether userID created the trip or holds an organizer
// member row on it.
func (r *PermissionRepo) IsOrganizer(ctx context.Context, userID, tripID uuid.UUID) (bool, error) {
	_, organizer, creator, err := r.membership(ctx, userID, tripID)
	if err != nil {
		return false, fmt.Errorf("repo.PermissionRepo.IsOrganizer: %w", err)
	}
	return organizer || creator, nil
}

// CanInviteMembers is granted to organizers.
func (r *PermissionRepo) CanInviteMembers(ctx context.Context, userID, tripID uuid.UUID) (bool, error) {
	ok, err := r.IsOrganizer(ctx, userID, tripID)
	if err != nil {
		return false, fmt.Errorf("repo.PermissionRepo.CanInviteMembers: %w", err)
	}
	return ok, nil
}

// CanUpdateRsvp requires a member row; a creator who is not a member has
// nothing to answer for.
func (r *PermissionRepo) CanUpdateRsvp(ctx context.Context, userID, tripID uuid.UUID) (bool, error) {
	member, _, _, err := r.membership(ctx, userID, tripID)
	if err != nil {
		return false, fmt.Errorf("repo.PermissionRepo.CanUpdateRsvp: %w", err)
	}
	return member, nil
}

func (r *PermissionRepo) GetMembershipInfo(ctx context.Context, userID, tripID uuid.UUID) (domain.MembershipInfo, error) {
	member, organizer, creator, err := r.membership(ctx, userID, tripID)
	if err != nil {
		return domain.MembershipInfo{}, fmt.Errorf("repo.PermissionRepo.GetMembershipInfo: %w", err)
	}
	return domain.MembershipInfo{
		IsMember:    member || creator,
		IsOrganizer: organizer || creator,
	}, nil
}
