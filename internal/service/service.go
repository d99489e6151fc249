// Package service implements the callable, scheduled, and trigger-driven
// operations on top of the store, auth, push, and ranking capabilities.
package service

import (
	"context"
	"errors"

	"github.com/runhub-backend/internal/domain"
	"github.com/runhub-backend/internal/store"
)

// exists reports whether a document is present.
func exists(ctx context.Context, st store.Store, path string) (bool, error) {
	_, err := st.Get(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// commitErr maps a failed commit to the caller-facing taxonomy. A failed
// precondition means the current state forbids the request.
func commitErr(message string, err error) error {
	if errors.Is(err, store.ErrPrecondition) {
		return domain.FailedPrecondition(message)
	}
	return domain.Internal(message, err)
}

func requirePrincipal(p *domain.Principal) error {
	if p == nil || p.Email == "" {
		return domain.Unauthenticated("authentication required")
	}
	return nil
}

func requireAdmin(p *domain.Principal) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return domain.PermissionDenied("admin role required")
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
