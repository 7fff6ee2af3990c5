// Package session holds the volatile per-conversation state of the state machine.
package session

import (
	"context"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
)

// Store keeps sessions keyed by session key. Every successful write bumps the
// session Version, which CompareAndSet uses to detect concurrent transitions.
type Store interface {
	// Get returns the session, and false when the key has none yet.
	Get(ctx context.Context, key string) (domain.Session, bool, error)

	// Update merges patch into the session, creating it when absent.
	Update(ctx context.Context, key string, patch domain.SessionPatch) (domain.Session, error)

	// CompareAndSet merges patch only if the stored version equals version
	// (0 for an absent session). It returns the current session and whether it wrote.
	CompareAndSet(ctx context.Context, key string, version uint64, patch domain.SessionPatch) (domain.Session, bool, error)

	// Clear resets the session to a fresh start state and drops its expected answer.
	Clear(ctx context.Context, key string) error

	// ArmExpectedAnswer stores the answer the next answer-bearing event is checked against.
	ArmExpectedAnswer(ctx context.Context, key, value string) error

	// ConsumeExpectedAnswer reads and deletes the armed answer. Of any number of
	// concurrent callers exactly one gets it.
	ConsumeExpectedAnswer(ctx context.Context, key string) (string, bool, error)

	// Sweep evicts sessions idle for longer than idle and returns their keys.
	Sweep(ctx context.Context, idle time.Duration) ([]string, error)
}
