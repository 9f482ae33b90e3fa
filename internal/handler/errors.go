package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pkordes/tripcrew/internal/domain"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable machine-readable code and a message.
// Current and Requested are set only for member_limit_exceeded.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Current   *int   `json:"current,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// errorKinds maps service sentinels to responses. Order matters:
// the specific not-found kinds come before domain.ErrNotFound.
var errorKinds = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrTripNotFound, http.StatusNotFound, "trip_not_found"},
	{domain.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
	{domain.ErrInvitationNotFound, http.StatusNotFound, "invitation_not_found"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{domain.ErrMemberLimitExceeded, http.StatusConflict, "member_limit_exceeded"},
	{domain.ErrLastOrganizer, http.StatusConflict, "last_organizer"},
	{domain.ErrCannotRemoveCreator, http.StatusBadRequest, "cannot_remove_creator"},
	{domain.ErrCannotDemoteCreator, http.StatusBadRequest, "cannot_demote_creator"},
	{domain.ErrCannotModifyOwnRole, http.StatusBadRequest, "cannot_modify_own_role"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
}

// writeError maps err to a status and writes the error body. Anything that
// is not a known service outcome is logged and reported as a bare 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		detail := ErrorDetail{Code: k.code, Message: k.err.Error()}
		var limit *domain.MemberLimitError
		switch {
		case errors.As(err, &limit):
			detail.Message = limit.Error()
			detail.Current = &limit.Current
			detail.Requested = &limit.Requested
			detail.Limit = &limit.Limit
		case k.err == domain.ErrValidation:
			detail.Message = unwrapMessage(err)
		}
		writeJSON(w, k.status, ErrorResponse{Error: detail})
		return
	}

	s.log.ErrorContext(r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorDetail{
		Code:    "internal_error",
		Message: "internal server error",
	}})
}

// requestError writes a 400 for a request rejected before reaching the
// service (malformed path parameter or body).
func requestError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{Code: "bad_request", Message: message}})
}

// unwrapMessage extracts the human-readable part from a wrapped validation error.
// e.g. "service.MembershipService.CreateInvitations: validation error: at least one phone number is required"
// → "at least one phone number is required"
func unwrapMessage(err error) string {
	msg := err.Error()
	prefix := domain.ErrValidation.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return msg
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
