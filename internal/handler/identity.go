package handler

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/pkordes/tripcrew/internal/domain"
)

// PhoneVerifiedRequest is the body of POST /internal/identity/phone-verified,
// sent by the identity subsystem once a user proves they own a phone number.
type PhoneVerifiedRequest struct {
	UserID      uuid.UUID `json:"user_id"`
	PhoneNumber string    `json:"phone_number"`
}

// PhoneVerified handles POST /internal/identity/phone-verified. It resolves
// every pending invitation for the phone into memberships for the user.
// The route is meant for service-to-service traffic and is not behind the
// caller identity middleware.
func (s *Server) PhoneVerified(w http.ResponseWriter, r *http.Request) {
	var body PhoneVerifiedRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.UserID == uuid.Nil {
		s.writeError(w, r, fmt.Errorf("%w: user_id is required", domain.ErrValidation))
		return
	}
	phone, err := normalizePhone(body.PhoneNumber, s.region)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.members.ProcessPendingInvitations(r.Context(), body.UserID, phone); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
