// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
)

// ErrStorage marks a failure of the durable store. Callers must reject the event
// instead of continuing on in-memory defaults.
var ErrStorage = errors.New("storage unavailable")

// Repository defines the interface for persisting accounts, completed exercises and reviews.
type Repository interface {
	// LoadAccount retrieves an account. It returns nil, nil when the user has none yet.
	LoadAccount(ctx context.Context, userID string) (*domain.Account, error)

	// SaveAccount creates or replaces an account record.
	SaveAccount(ctx context.Context, account *domain.Account) error

	// HasCompleted reports whether the user completed the exercise with this hash.
	HasCompleted(ctx context.Context, userID, hash string) (bool, error)

	// MarkCompleted records a completed exercise. Marking the same pair twice is a no-op.
	MarkCompleted(ctx context.Context, userID, hash string, at time.Time) error

	// CompletedHashes lists every hash the user completed.
	CompletedHashes(ctx context.Context, userID string) ([]string, error)

	// EnqueueReview stores a missed exercise for later review and sets item.ID.
	EnqueueReview(ctx context.Context, item *domain.ReviewItem) error

	// PopDueReview removes and returns the oldest review due at now, or nil when none is due.
	PopDueReview(ctx context.Context, userID string, now time.Time) (*domain.ReviewItem, error)

	// PendingReviews counts the user's queued reviews, due or not.
	PendingReviews(ctx context.Context, userID string) (int, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
