// Package apperr defines the error classes shared by the admin core.
// Handlers decide presentation by class via errors.Is, never by message text.
package apperr

import "errors"

var (
	// ErrUnauthorized marks a caller that is not the configured administrator.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound marks a missing user, topic, or duel id.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed step input or a malformed content document.
	ErrValidation = errors.New("validation failed")

	// ErrNoActiveSubscription marks a revoke on a FREE or expired subscription.
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrPersistence marks a failed durability commit. The in-memory
	// mutation has already been applied when this is returned.
	ErrPersistence = errors.New("persistence failed")

	// ErrNotification marks a failed outbound user notification.
	// Always non-fatal for the admin-facing result.
	ErrNotification = errors.New("notification failed")
)
