package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repo functions when the requested row does not
// exist in the database. Services translate it into one of the specific
// not-found kinds below before it reaches a handler.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. an unknown RSVP status).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// Membership and invitation failures. Each is a business-rule outcome the
// caller must act on; none of them is retried.
var (
	ErrTripNotFound        = errors.New("trip not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrMemberLimitExceeded = errors.New("member limit exceeded")
	ErrInvitationNotFound  = errors.New("invitation not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrCannotRemoveCreator = errors.New("cannot remove trip creator")
	ErrCannotDemoteCreator = errors.New("cannot change the trip creator's role")
	ErrCannotModifyOwnRole = errors.New("cannot modify your own role")
	ErrLastOrganizer       = errors.New("trip must keep at least one organizer")
)

// MemberLimitError reports an invitation batch that would push a trip past
// its membership ceiling. It matches ErrMemberLimitExceeded via errors.Is.
type MemberLimitError struct {
	Current   int
	Requested int
	Limit     int
}

func (e *MemberLimitError) Error() string {
	return fmt.Sprintf("%s: current %d + %d invites would exceed %d",
		ErrMemberLimitExceeded, e.Current, e.Requested, e.Limit)
}

func (e *MemberLimitError) Is(target error) bool {
	return target == ErrMemberLimitExceeded
}
