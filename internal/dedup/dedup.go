// Package dedup fingerprints exercises and tracks which ones a user already completed.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/ashureev/capylingo/internal/domain"
)

// CompletionStore is the slice of the durable repository the deduplicator needs.
type CompletionStore interface {
	HasCompleted(ctx context.Context, userID, hash string) (bool, error)
	MarkCompleted(ctx context.Context, userID, hash string, at time.Time) error
	CompletedHashes(ctx context.Context, userID string) ([]string, error)
}

// foldCase case-folds s. A Caser carries state, so each call gets its own.
func foldCase(s string) string { return cases.Fold().String(s) }

func canonical(s string) string {
	return strings.Join(strings.Fields(foldCase(s)), " ")
}

// Fingerprint returns a stable hash of the question, topic and option set.
// Option order and the correct index do not affect the result.
func Fingerprint(question, topic string, options []string) string {
	opts := make([]string, len(options))
	for i, o := range options {
		opts[i] = canonical(o)
	}
	sort.Strings(opts)

	h := sha256.New()
	// Fields are separated by bytes that cannot appear in canonical text.
	h.Write([]byte(canonical(question)))
	h.Write([]byte{0x1f})
	h.Write([]byte(canonical(topic)))
	for _, o := range opts {
		h.Write([]byte{0x1e})
		h.Write([]byte(o))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintExercise fingerprints a generated exercise for topic.
func FingerprintExercise(e domain.Exercise, topic string) string {
	return Fingerprint(e.Question, topic, e.Options)
}

// Deduplicator answers "already seen" questions against the durable store.
type Deduplicator struct {
	store CompletionStore
	now   func() time.Time
}

// New creates a Deduplicator. A nil clock defaults to time.Now.
func New(store CompletionStore, now func() time.Time) *Deduplicator {
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{store: store, now: now}
}

// HasCompleted reports whether userID already finished the exercise with hash.
func (d *Deduplicator) HasCompleted(ctx context.Context, userID, hash string) (bool, error) {
	ok, err := d.store.HasCompleted(ctx, userID, hash)
	if err != nil {
		return false, fmt.Errorf("check completed: %w", err)
	}
	return ok, nil
}

// MarkCompleted records the hash for userID. Repeated calls are no-ops.
func (d *Deduplicator) MarkCompleted(ctx context.Context, userID, hash string) error {
	if hash == "" {
		return nil
	}
	if err := d.store.MarkCompleted(ctx, userID, hash, d.now()); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// CompletedHashesFor returns the exclusion set handed to the content generator.
func (d *Deduplicator) CompletedHashesFor(ctx context.Context, userID string) ([]string, error) {
	hashes, err := d.store.CompletedHashes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list completed: %w", err)
	}
	return hashes, nil
}
