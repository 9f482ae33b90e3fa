package handler

import (
	"net/http"

	"github.com/pkordes/tripcrew/internal/domain"
)

// MemberList is the body of GET /trips/{tripId}/members.
type MemberList struct {
	Data []domain.MemberWithProfile `json:"data"`
}

// UpdateRsvpRequest is the body of POST /trips/{tripId}/rsvp.
type UpdateRsvpRequest struct {
	Status domain.MemberStatus `json:"status"`
}

// UpdateMemberRoleRequest is the body of PATCH /trips/{tripId}/members/{memberId}/role.
// IsOrganizer is a pointer so an omitted field is rejected instead of
// silently demoting.
type UpdateMemberRoleRequest struct {
	IsOrganizer *bool `json:"is_organizer"`
}

// GetTripMembers handles GET /trips/{tripId}/members.
func (s *Server) GetTripMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	ids, ok := pathUUIDs(w, r, "tripId")
	if !ok {
		return
	}

	members, err := s.members.GetTripMembers(r.Context(), ids[0], userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if members == nil {
		members = []domain.MemberWithProfile{}
	}
	writeJSON(w, http.StatusOK, MemberList{Data: members})
}

// RemoveMember handles DELETE /trips/{tripId}/members/{memberId}.
// Organizers only; the trip creator can never be removed.
func (s *Server) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	ids, ok := pathUUIDs(w, r, "tripId", "memberId")
	if !ok {
		return
	}

	if err := s.members.RemoveMember(r.Context(), userID, ids[0], ids[1]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateRsvp handles POST /trips/{tripId}/rsvp for the caller's own membership.
func (s *Server) UpdateRsvp(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	ids, ok := pathUUIDs(w, r, "tripId")
	if !ok {
		return
	}
	var body UpdateRsvpRequest
	if !decodeBody(w, r, &body) {
		return
	}

	member, err := s.members.UpdateRsvp(r.Context(), userID, ids[0], body.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// UpdateMemberRole handles PATCH /trips/{tripId}/members/{memberId}/role.
func (s *Server) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := caller(w, r)
	if !ok {
		return
	}
	ids, ok := pathUUIDs(w, r, "tripId", "memberId")
	if !ok {
		return
	}
	var body UpdateMemberRoleRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.IsOrganizer == nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: ErrorDetail{
			Code:    "validation_error",
			Message: "is_organizer is required",
		}})
		return
	}

	member, err := s.members.UpdateMemberRole(r.Context(), userID, ids[0], ids[1], *body.IsOrganizer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}
