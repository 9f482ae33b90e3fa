package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/pkordes/tripcrew/internal/domain"
	"github.com/pkordes/tripcrew/internal/repo"
)

// CreateInvitations invites phones to a trip. Phones already under a pending
// invitation, or belonging to a current member, are skipped. A phone that
// already belongs to an account also gets a no_response member row at once;
// its invitation stays pending until the account holder acts.
//
// The batch is rejected with a *domain.MemberLimitError when the trip would
// exceed domain.MaxMembersPerTrip.
func (s *MembershipService) CreateInvitations(ctx context.Context, requesterID, tripID uuid.UUID, phones []string) (domain.InviteResult, error) {
	const op = "service.MembershipService.CreateInvitations"

	if len(phones) == 0 {
		return domain.InviteResult{}, fmt.Errorf("%w: at least one phone number is required", domain.ErrValidation)
	}

	ok, err := s.perms.CanInviteMembers(ctx, requesterID, tripID)
	if err != nil {
		return domain.InviteResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return domain.InviteResult{}, s.denied(ctx, op, tripID)
	}

	result := domain.InviteResult{
		Created:      []domain.Invitation{},
		Skipped:      []string{},
		AddedMembers: []domain.AddedMember{},
	}
	err = s.store.WithTx(ctx, func(tx repo.Repos) error {
		if err := lockTrip(ctx, tx, tripID); err != nil {
			return err
		}
		count, err := tx.Members().CountByTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if count+len(phones) > domain.MaxMembersPerTrip {
			return limitError(count, len(phones))
		}

		pending, err := tx.Invitations().PendingPhones(ctx, tripID, phones)
		if err != nil {
			return err
		}
		users, err := tx.Users().ListByPhones(ctx, phones)
		if err != nil {
			return err
		}
		byPhone := make(map[string]domain.User, len(users))
		keys := make([]domain.MemberKey, 0, len(users))
		for _, u := range users {
			byPhone[u.PhoneNumber] = u
			keys = append(keys, domain.MemberKey{TripID: tripID, UserID: u.ID})
		}
		members, err := tx.Members().ExistingKeys(ctx, keys)
		if err != nil {
			return err
		}

		fresh := make([]string, 0, len(phones))
		seen := make(map[string]bool, len(phones))
		for _, phone := range phones {
			u, hasAccount := byPhone[phone]
			switch {
			case seen[phone], pending[phone]:
				result.Skipped = append(result.Skipped, phone)
			case hasAccount && members[domain.MemberKey{TripID: tripID, UserID: u.ID}]:
				result.Skipped = append(result.Skipped, phone)
			default:
				fresh = append(fresh, phone)
			}
			seen[phone] = true
		}
		if count+len(fresh) > domain.MaxMembersPerTrip {
			return limitError(count, len(fresh))
		}
		if len(fresh) == 0 {
			return nil
		}

		result.Created, err = tx.Invitations().CreatePending(ctx, tripID, requesterID, fresh)
		if err != nil {
			return err
		}

		admit := make([]domain.MemberKey, 0, len(fresh))
		for _, phone := range fresh {
			if u, ok := byPhone[phone]; ok {
				admit = append(admit, domain.MemberKey{TripID: tripID, UserID: u.ID})
			}
		}
		added, _, err := reconcile(ctx, tx, admit, nil)
		if err != nil {
			return err
		}
		names := make(map[uuid.UUID]string, len(users))
		for _, u := range users {
			names[u.ID] = u.DisplayName
		}
		for _, m := range added {
			result.AddedMembers = append(result.AddedMembers, domain.AddedMember{UserID: m.UserID, DisplayName: names[m.UserID]})
		}

		return tx.Outbox().Enqueue(ctx, domain.ReasonTripInvite, fresh)
	})
	if err != nil {
		return domain.InviteResult{}, s.fail(ctx, op, tripID, err)
	}

	if len(result.Created) > 0 && s.notifier != nil {
		s.notifier.Kick()
	}
	s.log.InfoContext(ctx, "invitations created",
		slog.String("trip_id", tripID.String()),
		slog.Int("created", len(result.Created)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("added_members", len(result.AddedMembers)))
	return result, nil
}

// RevokeInvitation deletes an invitation and, when the invitee already has
// an account with a member row on the trip, that member row too.
func (s *MembershipService) RevokeInvitation(ctx context.Context, requesterID, invitationID uuid.UUID) error {
	const op = "service.MembershipService.RevokeInvitation"

	inv, err := s.store.Invitations().GetByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, domain.ErrInvitationNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := s.perms.IsOrganizer(ctx, requesterID, inv.TripID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
	}

	err = s.store.WithTx(ctx, func(tx repo.Repos) error {
		locked, err := tx.Trips().Lock(ctx, inv.TripID)
		if err != nil {
			return err
		}
		if len(locked) == 0 {
			return domain.ErrInvitationNotFound
		}
		if _, err := tx.Invitations().GetByID(ctx, invitationID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrInvitationNotFound
			}
			return err
		}

		if err := revokeMembership(ctx, tx, inv); err != nil {
			return err
		}
		if err := tx.Invitations().Delete(ctx, invitationID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrInvitationNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, op, inv.TripID, err)
	}

	s.log.InfoContext(ctx, "invitation revoked",
		slog.String("trip_id", inv.TripID.String()),
		slog.String("invitation_id", invitationID.String()),
		slog.String("requester_id", requesterID.String()))
	return nil
}

// revokeMembership removes the member row created for a revoked invitee.
// The creator and the last organizer keep their rows.
func revokeMembership(ctx context.Context, tx repo.Repos, inv domain.Invitation) error {
	user, err := tx.Users().GetByPhone(ctx, inv.InviteePhone)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	m, err := tx.Members().GetByUser(ctx, inv.TripID, user.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	trip, err := tx.Trips().GetByID(ctx, inv.TripID)
	if err != nil {
		return err
	}
	if trip.CreatedBy == user.ID {
		return domain.ErrCannotRemoveCreator
	}
	if m.IsOrganizer {
		if err := requireAnotherOrganizer(ctx, tx, inv.TripID); err != nil {
			return err
		}
	}
	return tx.Members().Delete(ctx, inv.TripID, m.ID)
}

// ListInvitations returns every invitation on the trip, with the invitee's
// display name when the phone belongs to an account. Organizers only.
func (s *MembershipService) ListInvitations(ctx context.Context, requesterID, tripID uuid.UUID) ([]domain.InvitationWithInvitee, error) {
	const op = "service.MembershipService.ListInvitations"

	ok, err := s.perms.IsOrganizer(ctx, requesterID, tripID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, s.denied(ctx, op, tripID)
	}

	invs, err := s.store.Invitations().ListByTrip(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return invs, nil
}

// ProcessPendingInvitations resolves every pending invitation for phone to
// userID, once the identity subsystem has attached that phone to the
// account. The user gets a member row on each inviting trip that does not
// already have one, and the invitations become accepted. Calling it again
// with no intervening change is a no-op.
//
// A trip that is already full keeps its invitation pending and gets no
// member row.
func (s *MembershipService) ProcessPendingInvitations(ctx context.Context, userID uuid.UUID, phone string) error {
	const op = "service.MembershipService.ProcessPendingInvitations"

	invs, err := s.store.Invitations().ListPendingByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(invs) == 0 {
		return nil
	}

	var accepted, full int
	err = s.store.WithTx(ctx, func(tx repo.Repos) error {
		locked, err := tx.Trips().Lock(ctx, tripIDs(invs)...)
		if err != nil {
			return err
		}
		// Re-read under the locks; a concurrent call may have resolved some.
		// Invitations on trips outside the locked set were created after the
		// first read and are left for the next call.
		current, err := tx.Invitations().ListPendingByPhone(ctx, phone)
		if err != nil {
			return err
		}
		invs := slices.DeleteFunc(current, func(inv domain.Invitation) bool {
			return !slices.Contains(locked, inv.TripID)
		})
		if len(invs) == 0 {
			return nil
		}

		trips := tripIDs(invs)
		counts, err := tx.Members().CountByTrips(ctx, trips)
		if err != nil {
			return err
		}
		room := make(map[uuid.UUID]int, len(trips))
		keys := make([]domain.MemberKey, 0, len(trips))
		for _, id := range trips {
			room[id] = domain.MaxMembersPerTrip - counts[id]
			keys = append(keys, domain.MemberKey{TripID: id, UserID: userID})
		}

		_, refused, err := reconcile(ctx, tx, keys, room)
		if err != nil {
			return err
		}
		blocked := make(map[uuid.UUID]bool, len(refused))
		for _, k := range refused {
			blocked[k.TripID] = true
		}

		ids := make([]uuid.UUID, 0, len(invs))
		for _, inv := range invs {
			if !blocked[inv.TripID] {
				ids = append(ids, inv.ID)
			}
		}
		full = len(invs) - len(ids)
		n, err := tx.Invitations().MarkAccepted(ctx, ids)
		accepted = int(n)
		return err
	})
	if err != nil {
		s.log.ErrorContext(ctx, "pending invitation resolution failed",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()))
		return fmt.Errorf("%s: %w", op, err)
	}

	if full > 0 {
		s.log.WarnContext(ctx, "invitations left pending on full trips",
			slog.String("user_id", userID.String()),
			slog.Int("count", full))
	}
	s.log.InfoContext(ctx, "pending invitations resolved",
		slog.String("user_id", userID.String()),
		slog.Int("accepted", accepted))
	return nil
}

// reconcile is the single step that keeps member rows in line with
// resolved invitations, on both the admission and the identity-arrival path.
// Each key without a member row gets a no_response row. When room is
// non-nil, a trip with no room left is refused instead; keys that already
// have a row never need room.
func reconcile(ctx context.Context, tx repo.Repos, keys []domain.MemberKey, room map[uuid.UUID]int) (created []domain.Member, refused []domain.MemberKey, err error) {
	if len(keys) == 0 {
		return []domain.Member{}, nil, nil
	}
	existing, err := tx.Members().ExistingKeys(ctx, keys)
	if err != nil {
		return nil, nil, err
	}

	missing := make([]domain.MemberKey, 0, len(keys))
	for _, k := range keys {
		if existing[k] {
			continue
		}
		if room != nil {
			if room[k.TripID] <= 0 {
				refused = append(refused, k)
				continue
			}
			room[k.TripID]--
		}
		missing = append(missing, k)
	}

	created, err = tx.Members().CreateNoResponse(ctx, missing)
	if err != nil {
		return nil, nil, err
	}
	return created, refused, nil
}

func limitError(current, requested int) error {
	return &domain.MemberLimitError{Current: current, Requested: requested, Limit: domain.MaxMembersPerTrip}
}

// tripIDs returns the distinct trip ids of invs in ascending order.
func tripIDs(invs []domain.Invitation) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(invs))
	for _, inv := range invs {
		ids = append(ids, inv.TripID)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(ids)
}
