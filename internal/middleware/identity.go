package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// UserIDHeader carries the authenticated caller's user ID. Authentication
// itself happens upstream; this service trusts the header it is given.
const UserIDHeader = "X-User-ID"

type userIDKey struct{}

// NewIdentityHandler returns a middleware that reads the caller's ID from
// UserIDHeader and stores it in the request context. Requests with a missing
// or malformed header are rejected with 401.
func NewIdentityHandler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(UserIDHeader)
			if raw == "" {
				unauthorized(w, "missing "+UserIDHeader+" header")
				return
			}
			id, err := uuid.Parse(raw)
			if err != nil || id == uuid.Nil {
				unauthorized(w, "invalid "+UserIDHeader+" header")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
		})
	}
}

// WithUserID returns a copy of ctx carrying id as the caller identity.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserIDFrom returns the caller identity stored by NewIdentityHandler.
func UserIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey{}).(uuid.UUID)
	return id, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "unauthorized", "message": msg},
	})
}
