// Package domain contains the core data types for the trip membership service.
// This package has no database or transport dependencies and is imported by
// every other internal package (repo, service, notify, handler).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Trip is the slice of a trip the membership service needs. Trips are owned
// by another subsystem; this service only reads them.
// CreatedBy is the immutable creator, who can never be removed or demoted.
type Trip struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedBy uuid.UUID `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account resolvable by phone number. Read-only to this service.
type User struct {
	ID              uuid.UUID
	PhoneNumber     string
	DisplayName     string
	ProfilePhotoURL *string
	Handles         map[string]string
}
