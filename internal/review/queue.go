// Package review implements the spaced-repetition queue of missed exercises.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
)

// ItemStore is the slice of the durable repository the queue needs.
type ItemStore interface {
	EnqueueReview(ctx context.Context, item *domain.ReviewItem) error
	PopDueReview(ctx context.Context, userID string, now time.Time) (*domain.ReviewItem, error)
	PendingReviews(ctx context.Context, userID string) (int, error)
}

// Queue schedules missed exercises for a later retry.
type Queue struct {
	store ItemStore
	now   func() time.Time
}

// NewQueue creates a Queue. A nil clock defaults to time.Now.
func NewQueue(store ItemStore, now func() time.Time) *Queue {
	if now == nil {
		now = time.Now
	}
	return &Queue{store: store, now: now}
}

// Enqueue schedules word, with the exercise that missed it, to come back after delay.
func (q *Queue) Enqueue(ctx context.Context, userID, word string, exercise *domain.PendingExercise, delay time.Duration) error {
	now := q.now()
	item := &domain.ReviewItem{
		UserID:    userID,
		Word:      word,
		DueAt:     now.Add(delay),
		CreatedAt: now,
	}
	if exercise != nil {
		ex := *exercise
		ex.Options = append([]string(nil), exercise.Options...)
		ex.IsReview = true
		item.Exercise = &ex
	}
	if err := q.store.EnqueueReview(ctx, item); err != nil {
		return fmt.Errorf("enqueue review: %w", err)
	}
	return nil
}

// NextDue pops the first due item, FIFO among due items. It returns nil when
// nothing is due and leaves the queue untouched in that case.
func (q *Queue) NextDue(ctx context.Context, userID string) (*domain.ReviewItem, error) {
	item, err := q.store.PopDueReview(ctx, userID, q.now())
	if err != nil {
		return nil, fmt.Errorf("next due review: %w", err)
	}
	return item, nil
}

// Pending counts queued items for userID.
func (q *Queue) Pending(ctx context.Context, userID string) (int, error) {
	n, err := q.store.PendingReviews(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}
