// Package auth is the identity-service capability: principals, their
// verification state, and their role claims.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when no principal matches.
var ErrUserNotFound = errors.New("auth user not found")

// User is an authentication principal.
type User struct {
	UID           string
	Email         string
	EmailVerified bool
	Disabled      bool
	CreatedAt     time.Time
	Claims        map[string]interface{}
}

// Page is one page of a principal listing.
type Page struct {
	Users     []User
	NextToken string
}

// Service is the identity capability.
type Service interface {
	// GetByEmail resolves a principal by email. ErrUserNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Delete removes a principal. ErrUserNotFound when already absent.
	Delete(ctx context.Context, uid string) error
	// SetClaims replaces a principal's custom claims.
	SetClaims(ctx context.Context, uid string, claims map[string]interface{}) error
	// List pages through all principals ordered by uid. An empty token
	// starts from the beginning; an empty NextToken ends the listing.
	List(ctx context.Context, pageSize int, pageToken string) (*Page, error)
}
