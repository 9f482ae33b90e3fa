package handler

import (
	"fmt"
	"net/http"

	"github.com/pkordes/tripcrew/internal/domain"
)

// CreateInvitationsRequest is the body of POST /trips/{tripId}/invitations.
type CreateInvitationsRequest struct {
	PhoneNumbers []string `json:"phone_numbers"`
}

// InvitationList is the body of GET /trips/{tripId}/invitations.
type InvitationList struct {
	Data []domain.InvitationWithInvitee `json:"data"`
}

// CreateInvitations handles POST /trips/{tripId}/invitations.
// A batch holds 1 to domain.MaxMembersPerTrip numbers. They are normalised
// to E.164 before reaching the service; one unparseable number rejects the
// whole batch with 422.
// Responds 201 when at least one invitation was created, 200 when every
// number was skipped.
func (s *Server) CreateInvitations(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	ids, ok := pathUUIDs(w, r, "tripId")
	if !ok {
		return
	}
	var body CreateInvitationsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if n := len(body.PhoneNumbers); n == 0 || n > domain.MaxMembersPerTrip {
		s.writeError(w, r, fmt.Errorf("%w: phone_numbers must hold between 1 and %d entries", domain.ErrValidation, domain.MaxMembersPerTrip))
		return
	}
	phones, err := normalizePhones(body.PhoneNumbers, s.region)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.members.CreateInvitations(r.Context(), userID, ids[0], phones)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if len(result.Created) > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// ListInvitations handles GET /trips/{tripId}/invitations. Organizers only.
func (s *Server) ListInvitations(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	ids, ok := pathUUIDs(w, r, "tripId")
	if !ok {
		return
	}

	invs, err := s.members.ListInvitations(r.Context(), userID, ids[0])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if invs == nil {
		invs = []domain.InvitationWithInvitee{}
	}
	writeJSON(w, http.StatusOK, InvitationList{Data: invs})
}

// RevokeInvitation handles DELETE /invitations/{invitationId}.
func (s *Server) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	ids, ok := pathUUIDs(w, r, "invitationId")
	if !ok {
		return
	}

	if err := s.members.RevokeInvitation(r.Context(), userID, ids[0]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
