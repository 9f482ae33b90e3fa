// Package handler implements the HTTP surface of the trip membership API.
// Handlers decode requests, normalise phone numbers to E.164, call the
// membership service and map its errors to HTTP statuses. Business rules
// live in the service; nothing here touches the database.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pkordes/tripcrew/internal/domain"
	"github.com/pkordes/tripcrew/internal/middleware"
)

// MembershipServicer is the subset of service.MembershipService the handlers
// need. Defined here so tests can substitute a mock.
type MembershipServicer interface {
	CreateInvitations(ctx context.Context, requesterID, tripID uuid.UUID, phones []string) (domain.InviteResult, error)
	RevokeInvitation(ctx context.Context, requesterID, invitationID uuid.UUID) error
	ListInvitations(ctx context.Context, requesterID, tripID uuid.UUID) ([]domain.InvitationWithInvitee, error)
	RemoveMember(ctx context.Context, requesterID, tripID, memberID uuid.UUID) error
	UpdateRsvp(ctx context.Context, userID, tripID uuid.UUID, status domain.MemberStatus) (domain.MemberWithProfile, error)
	UpdateMemberRole(ctx context.Context, requesterID, tripID, memberID uuid.UUID, isOrganizer bool) (domain.MemberWithProfile, error)
	GetTripMembers(ctx context.Context, tripID, requesterID uuid.UUID) ([]domain.MemberWithProfile, error)
	ProcessPendingInvitations(ctx context.Context, userID uuid.UUID, phone string) error
}

// Server holds the membership service and the settings the handlers share.
type Server struct {
	members MembershipServicer
	region  string
	log     *slog.Logger
}

// NewServer creates a Server. phoneRegion is the ISO 3166 region used to
// parse phone numbers written without a country code. A nil log uses
// slog.Default().
func NewServer(members MembershipServicer, phoneRegion string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{members: members, region: phoneRegion, log: log}
}

// Routes registers every endpoint on r. Trip and invitation routes require
// a caller identity; /healthz and the internal identity hook do not.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.GetHealth)
	r.Post("/internal/identity/phone-verified", s.PhoneVerified)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityHandler())

		r.Route("/trips/{tripId}", func(r chi.Router) {
			r.Get("/members", s.GetTripMembers)
			r.Delete("/members/{memberId}", s.RemoveMember)
			r.Patch("/members/{memberId}/role", s.UpdateMemberRole)
			r.Post("/rsvp", s.UpdateRsvp)
			r.Get("/invitations", s.ListInvitations)
			r.Post("/invitations", s.CreateInvitations)
		})
		r.Delete("/invitations/{invitationId}", s.RevokeInvitation)
	})
}

// Handler returns a router with Routes applied and no other middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}
