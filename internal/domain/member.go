package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxMembersPerTrip is the membership ceiling enforced on invitation.
const MaxMembersPerTrip = 25

// MemberStatus is a member's RSVP answer.
type MemberStatus string

const (
	StatusGoing      MemberStatus = "going"
	StatusMaybe      MemberStatus = "maybe"
	StatusNotGoing   MemberStatus = "not_going"
	StatusNoResponse MemberStatus = "no_response"
)

// IsRSVP reports whether s is an answer a member may set themselves.
// no_response is only ever assigned by the service.
func (s MemberStatus) IsRSVP() bool {
	switch s {
	case StatusGoing, StatusMaybe, StatusNotGoing:
		return true
	}
	return false
}

// Member is one user's participation in one trip.
// (TripID, UserID) is unique.
type Member struct {
	ID          uuid.UUID
	TripID      uuid.UUID
	UserID      uuid.UUID
	Status      MemberStatus
	IsOrganizer bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MemberKey identifies a membership by trip and user rather than by row id.
type MemberKey struct {
	TripID uuid.UUID
	UserID uuid.UUID
}

// MemberWithProfile is a member joined with the user's public profile.
// PhoneNumber is nil unless the viewer is allowed to see it.
type MemberWithProfile struct {
	ID              uuid.UUID         `json:"id"`
	UserID          uuid.UUID         `json:"user_id"`
	DisplayName     string            `json:"display_name"`
	ProfilePhotoURL *string           `json:"profile_photo_url"`
	Handles         map[string]string `json:"handles"`
	PhoneNumber     *string           `json:"phone_number,omitempty"`
	Status          MemberStatus      `json:"status"`
	IsOrganizer     bool              `json:"is_organizer"`
	CreatedAt       time.Time         `json:"created_at"`
}

// MembershipInfo answers "is this user in the trip, and with which role".
type MembershipInfo struct {
	IsMember    bool
	IsOrganizer bool
}

// AddedMember is a user who became a member at invitation time because their
// phone already belonged to an account.
type AddedMember struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}
