// Package content talks to the generative content service that produces exercises,
// games and semantic answer judgements.
package content

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/metrics"
)

// ErrMalformed marks a generator or judge payload that could not be decoded or validated.
var ErrMalformed = errors.New("malformed content payload")

// Generator produces exercises and games.
type Generator interface {
	GenerateExercise(ctx context.Context, req domain.ExerciseRequest) (domain.Exercise, error)
	GenerateGame(ctx context.Context, req domain.GameRequest) (domain.Game, error)
}

// Judge classifies free-form answers into correct, almost or wrong.
type Judge interface {
	Judge(ctx context.Context, userAnswer, correctAnswer string, ageGroup domain.AgeGroup) (domain.Verdict, error)
}

// Instrumented wraps a Generator with Prometheus timing and result counters.
type Instrumented struct {
	next Generator
}

// WithMetrics returns gen wrapped in an Instrumented generator.
func WithMetrics(gen Generator) *Instrumented {
	return &Instrumented{next: gen}
}

// GenerateExercise implements Generator.
func (i *Instrumented) GenerateExercise(ctx context.Context, req domain.ExerciseRequest) (domain.Exercise, error) {
	start := time.Now()
	ex, err := i.next.GenerateExercise(ctx, req)
	observe("exercise", start, err)
	return ex, err
}

// GenerateGame implements Generator.
func (i *Instrumented) GenerateGame(ctx context.Context, req domain.GameRequest) (domain.Game, error) {
	start := time.Now()
	g, err := i.next.GenerateGame(ctx, req)
	observe("game", start, err)
	return g, err
}

func observe(kind string, start time.Time, err error) {
	metrics.GenerationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	result := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	case errors.Is(err, ErrMalformed):
		result = "malformed"
	case err != nil:
		result = "error"
	}
	metrics.GenerationTotal.WithLabelValues(kind, result).Inc()
}
