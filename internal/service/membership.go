// Package service contains the business logic of the membership service.
// Services validate inputs, enforce business rules, and orchestrate repo calls.
// No SQL lives here; services depend on repo interfaces, not implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pkordes/tripcrew/internal/domain"
	"github.com/pkordes/tripcrew/internal/repo"
)

// PermissionOracle answers role questions about a user on a trip.
// Implemented by *repo.PermissionRepo.
type PermissionOracle interface {
	CanInviteMembers(ctx context.Context, userID, tripID uuid.UUID) (bool, error)
	IsOrganizer(ctx context.Context, userID, tripID uuid.UUID) (bool, error)
	CanUpdateRsvp(ctx context.Context, userID, tripID uuid.UUID) (bool, error)
	GetMembershipInfo(ctx context.Context, userID, tripID uuid.UUID) (domain.MembershipInfo, error)
}

// Notifier is told that new notifications were committed to the outbox.
// Kick must not block.
type Notifier interface {
	Kick()
}

// MembershipService is the only writer of members and invitations. Every
// mutation runs in one transaction that first locks the affected trip rows.
type MembershipService struct {
	store    repo.Store
	perms    PermissionOracle
	notifier Notifier
	log      *slog.Logger
}

// NewMembershipService constructs a MembershipService. notifier may be nil
// when nothing drains the outbox in-process.
func NewMembershipService(store repo.Store, perms PermissionOracle, notifier Notifier, log *slog.Logger) *MembershipService {
	if log == nil {
		log = slog.Default()
	}
	return &MembershipService{store: store, perms: perms, notifier: notifier, log: log}
}

// RemoveMember deletes a member and any invitation on the trip for their
// phone, so they are not left half-invited.
func (s *MembershipService) RemoveMember(ctx context.Context, requesterID, tripID, memberID uuid.UUID) error {
	const op = "service.MembershipService.RemoveMember"

	ok, err := s.perms.IsOrganizer(ctx, requesterID, tripID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return s.denied(ctx, op, tripID)
	}

	target, trip, err := s.loadTarget(ctx, tripID, memberID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if target.UserID == trip.CreatedBy {
		return s.reject(ctx, op, tripID, domain.ErrCannotRemoveCreator)
	}

	err = s.store.WithTx(ctx, func(tx repo.Repos) error {
		if err := lockTrip(ctx, tx, tripID); err != nil {
			return err
		}
		m, err := getMember(ctx, tx, tripID, memberID)
		if err != nil {
			return err
		}
		if m.IsOrganizer {
			if err := requireAnotherOrganizer(ctx, tx, tripID); err != nil {
				return err
			}
		}

		user, err := tx.Users().GetByID(ctx, m.UserID)
		if err != nil {
			return err
		}
		if _, err := tx.Invitations().DeleteByPhone(ctx, tripID, user.PhoneNumber); err != nil {
			return err
		}
		return tx.Members().Delete(ctx, tripID, memberID)
	})
	if err != nil {
		return s.fail(ctx, op, tripID, err)
	}

	s.log.InfoContext(ctx, "member removed",
		slog.String("trip_id", tripID.String()),
		slog.String("member_id", memberID.String()),
		slog.String("requester_id", requesterID.String()))
	return nil
}

// UpdateRsvp sets the caller's own RSVP status.
// Returns domain.ErrValidation for no_response or an unknown status.
func (s *MembershipService) UpdateRsvp(ctx context.Context, userID, tripID uuid.UUID, status domain.MemberStatus) (domain.MemberWithProfile, error) {
	const op = "service.MembershipService.UpdateRsvp"

	if !status.IsRSVP() {
		return domain.MemberWithProfile{}, fmt.Errorf("%w: status must be one of going, maybe, not_going", domain.ErrValidation)
	}

	ok, err := s.perms.CanUpdateRsvp(ctx, userID, tripID)
	if err != nil {
		return domain.MemberWithProfile{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return domain.MemberWithProfile{}, s.denied(ctx, op, tripID)
	}

	var profile domain.MemberWithProfile
	err = s.store.WithTx(ctx, func(tx repo.Repos) error {
		if err := lockTrip(ctx, tx, tripID); err != nil {
			return err
		}
		if err := tx.Members().UpdateStatus(ctx, tripID, userID, status); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrMemberNotFound
			}
			return err
		}
		m, err := tx.Members().GetByUser(ctx, tripID, userID)
		if err != nil {
			return err
		}
		profile, err = tx.Members().GetProfile(ctx, tripID, m.ID)
		return err
	})
	if err != nil {
		return domain.MemberWithProfile{}, s.fail(ctx, op, tripID, err)
	}

	return s.project(ctx, userID, tripID, profile)
}

// UpdateMemberRole promotes or demotes another member of the trip.
func (s *MembershipService) UpdateMemberRole(ctx context.Context, requesterID, tripID, memberID uuid.UUID, isOrganizer bool) (domain.MemberWithProfile, error) {
	const op = "service.MembershipService.UpdateMemberRole"

	ok, err := s.perms.IsOrganizer(ctx, requesterID, tripID)
	if err != nil {
		return domain.MemberWithProfile{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return domain.MemberWithProfile{}, s.denied(ctx, op, tripID)
	}

	target, trip, err := s.loadTarget(ctx, tripID, memberID)
	if err != nil {
		return domain.MemberWithProfile{}, fmt.Errorf("%s: %w", op, err)
	}
	if target.UserID == requesterID {
		return domain.MemberWithProfile{}, s.reject(ctx, op, tripID, domain.ErrCannotModifyOwnRole)
	}
	if target.UserID == trip.CreatedBy {
		return domain.MemberWithProfile{}, s.reject(ctx, op, tripID, domain.ErrCannotDemoteCreator)
	}

	var profile domain.MemberWithProfile
	err = s.store.WithTx(ctx, func(tx repo.Repos) error {
		if err := lockTrip(ctx, tx, tripID); err != nil {
			return err
		}
		m, err := getMember(ctx, tx, tripID, memberID)
		if err != nil {
			return err
		}
		if m.IsOrganizer && !isOrganizer {
			if err := requireAnotherOrganizer(ctx, tx, tripID); err != nil {
				return err
			}
		}
		if err := tx.Members().UpdateRole(ctx, tripID, memberID, isOrganizer); err != nil {
			return err
		}
		profile, err = tx.Members().GetProfile(ctx, tripID, memberID)
		return err
	})
	if err != nil {
		return domain.MemberWithProfile{}, s.fail(ctx, op, tripID, err)
	}

	// The requester passed the organizer check, so the phone stays visible.
	return profile, nil
}

// GetTripMembers lists the trip's members in join order. Phone numbers are
// included only when the requester is an organizer.
func (s *MembershipService) GetTripMembers(ctx context.Context, tripID, requesterID uuid.UUID) ([]domain.MemberWithProfile, error) {
	const op = "service.MembershipService.GetTripMembers"

	info, err := s.perms.GetMembershipInfo(ctx, requesterID, tripID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !info.IsMember {
		return nil, s.denied(ctx, op, tripID)
	}

	members, err := s.store.Members().ListProfiles(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !info.IsOrganizer {
		for i := range members {
			members[i].PhoneNumber = nil
		}
	}
	return members, nil
}

// loadTarget reads the target member and its trip concurrently. Both reads
// are repeated or superseded under the trip lock by the caller.
func (s *MembershipService) loadTarget(ctx context.Context, tripID, memberID uuid.UUID) (domain.Member, domain.Trip, error) {
	var (
		member domain.Member
		trip   domain.Trip
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		member, err = s.store.Members().GetByID(gctx, tripID, memberID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrMemberNotFound
		}
		return err
	})
	g.Go(func() error {
		var err error
		trip, err = s.store.Trips().GetByID(gctx, tripID)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrTripNotFound
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Member{}, domain.Trip{}, err
	}
	return member, trip, nil
}

// project hides the phone number from a viewer who is not an organizer.
func (s *MembershipService) project(ctx context.Context, viewerID, tripID uuid.UUID, p domain.MemberWithProfile) (domain.MemberWithProfile, error) {
	organizer, err := s.perms.IsOrganizer(ctx, viewerID, tripID)
	if err != nil {
		return domain.MemberWithProfile{}, fmt.Errorf("service.MembershipService.project: %w", err)
	}
	if !organizer {
		p.PhoneNumber = nil
	}
	return p, nil
}

// denied shapes a failed permission check: a missing trip is reported as
// such, anything else as permission denied. The lookup never grants access.
func (s *MembershipService) denied(ctx context.Context, op string, tripID uuid.UUID) error {
	exists, err := s.store.Trips().Exists(ctx, tripID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, domain.ErrTripNotFound)
	}
	return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
}

// reject logs a refused business rule and wraps it.
func (s *MembershipService) reject(ctx context.Context, op string, tripID uuid.UUID, err error) error {
	s.log.WarnContext(ctx, "membership change rejected",
		slog.String("op", op),
		slog.String("trip_id", tripID.String()),
		slog.String("reason", err.Error()))
	return fmt.Errorf("%s: %w", op, err)
}

// fail wraps an error returned from a transaction. Business-rule outcomes
// are logged at warn, everything else at error.
func (s *MembershipService) fail(ctx context.Context, op string, tripID uuid.UUID, err error) error {
	if isBusinessRule(err) {
		return s.reject(ctx, op, tripID, err)
	}
	s.log.ErrorContext(ctx, "membership transaction failed",
		slog.String("op", op),
		slog.String("trip_id", tripID.String()),
		slog.String("error", err.Error()))
	return fmt.Errorf("%s: %w", op, err)
}

func isBusinessRule(err error) bool {
	for _, target := range []error{
		domain.ErrTripNotFound,
		domain.ErrPermissionDenied,
		domain.ErrMemberLimitExceeded,
		domain.ErrInvitationNotFound,
		domain.ErrMemberNotFound,
		domain.ErrCannotRemoveCreator,
		domain.ErrCannotDemoteCreator,
		domain.ErrCannotModifyOwnRole,
		domain.ErrLastOrganizer,
		domain.ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// lockTrip takes the per-trip row lock and reports a trip deleted since the
// permission check as not found.
func lockTrip(ctx context.Context, tx repo.Repos, tripID uuid.UUID) error {
	locked, err := tx.Trips().Lock(ctx, tripID)
	if err != nil {
		return err
	}
	if len(locked) == 0 {
		return domain.ErrTripNotFound
	}
	return nil
}

func getMember(ctx context.Context, tx repo.Repos, tripID, memberID uuid.UUID) (domain.Member, error) {
	m, err := tx.Members().GetByID(ctx, tripID, memberID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	return m, err
}

// requireAnotherOrganizer fails with ErrLastOrganizer unless the trip has
// more than one organizer row.
func requireAnotherOrganizer(ctx context.Context, tx repo.Repos, tripID uuid.UUID) error {
	n, err := tx.Members().CountOrganizers(ctx, tripID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return domain.ErrLastOrganizer
	}
	return nil
}
