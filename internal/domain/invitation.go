package domain

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus tracks whether an invitation has been resolved to an account.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
)

// Invitation is an intent to add a phone-identified person to a trip.
// At most one pending invitation exists per (TripID, InviteePhone); accepted
// ones are history and may coexist with a later pending one.
type Invitation struct {
	ID           uuid.UUID        `json:"id"`
	TripID       uuid.UUID        `json:"trip_id"`
	InviterID    uuid.UUID        `json:"inviter_id"`
	InviteePhone string           `json:"invitee_phone"`
	Status       InvitationStatus `json:"status"`
	SentAt       time.Time        `json:"sent_at"`
	RespondedAt  *time.Time       `json:"responded_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// InvitationWithInvitee adds the invitee's display name when the phone
// already belongs to an account.
type InvitationWithInvitee struct {
	Invitation
	InviteeName *string `json:"invitee_name,omitempty"`
}

// InviteResult is the outcome of one invitation batch.
// Skipped lists phones that already had a pending invitation or already
// belonged to a member, in request order.
type InviteResult struct {
	Created      []Invitation  `json:"invitations"`
	Skipped      []string      `json:"skipped"`
	AddedMembers []AddedMember `json:"added_members"`
}

// OutboxStatus is the delivery state of a queued notification.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxDispatched OutboxStatus = "dispatched"
	OutboxFailed     OutboxStatus = "failed"
)

// ReasonTripInvite is the outbox reason recorded for invitation notices.
const ReasonTripInvite = "trip_invite"

// OutboxMessage is a notification recorded in the same transaction as the
// state change that caused it, delivered after commit.
type OutboxMessage struct {
	ID           uuid.UUID
	Phone        string
	Reason       string
	Status       OutboxStatus
	Error        string
	CreatedAt    time.Time
	DispatchedAt *time.Time
}
