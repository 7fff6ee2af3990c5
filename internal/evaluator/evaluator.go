// Package evaluator grades free-form answers with a rule layer that escalates
// ambiguous cases to a semantic judge.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/metrics"
)

// ErrEscalation marks a failed semantic judge call. It is never surfaced to the
// learner; the verdict falls back to almost.
var ErrEscalation = errors.New("judge escalation failed")

// Judge classifies an answer the rule layer found ambiguous.
type Judge interface {
	Judge(ctx context.Context, userAnswer, correctAnswer string, ageGroup domain.AgeGroup) (domain.Verdict, error)
}

// Config holds the similarity thresholds and judge timeout.
type Config struct {
	HighThreshold float64
	LowThreshold  float64
	JudgeTimeout  time.Duration
}

// DefaultConfig returns the product thresholds.
func DefaultConfig() Config {
	return Config{HighThreshold: 0.85, LowThreshold: 0.6, JudgeTimeout: 8 * time.Second}
}

// Evaluator is the tiered answer evaluator. A nil judge disables escalation.
type Evaluator struct {
	cfg    Config
	judge  Judge
	logger *slog.Logger
}

// New validates cfg and creates an Evaluator.
func New(cfg Config, judge Judge, logger *slog.Logger) (*Evaluator, error) {
	if cfg.LowThreshold < 0 || cfg.HighThreshold > 1 || cfg.LowThreshold >= cfg.HighThreshold {
		return nil, fmt.Errorf("invalid thresholds: need 0 <= low < high <= 1, got low=%v high=%v",
			cfg.LowThreshold, cfg.HighThreshold)
	}
	if cfg.JudgeTimeout <= 0 {
		cfg.JudgeTimeout = DefaultConfig().JudgeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, judge: judge, logger: logger}, nil
}

// Evaluate grades userAnswer against correctAnswer.
func (e *Evaluator) Evaluate(ctx context.Context, userAnswer, correctAnswer string, ageGroup domain.AgeGroup) domain.Verdict {
	ratio := Similarity(userAnswer, correctAnswer)

	var v domain.Verdict
	if ageGroup == domain.AgeGroupKid {
		// Kids are never marked wrong and never escalated.
		v = domain.VerdictAlmost
		if ratio > e.cfg.LowThreshold {
			v = domain.VerdictCorrect
		}
	} else {
		v = e.rule(ratio)
		if v == domain.VerdictAlmost {
			v = e.escalate(ctx, userAnswer, correctAnswer, ageGroup)
		}
	}

	e.logger.Debug("answer evaluated", "age_group", ageGroup, "ratio", ratio, "verdict", v.String())
	metrics.VerdictsTotal.WithLabelValues(string(ageGroup), v.String()).Inc()
	return v
}

func (e *Evaluator) rule(ratio float64) domain.Verdict {
	switch {
	case ratio > e.cfg.HighThreshold:
		return domain.VerdictCorrect
	case ratio > e.cfg.LowThreshold:
		return domain.VerdictAlmost
	default:
		return domain.VerdictWrong
	}
}

func (e *Evaluator) escalate(ctx context.Context, userAnswer, correctAnswer string, ageGroup domain.AgeGroup) domain.Verdict {
	if e.judge == nil {
		return domain.VerdictAlmost
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.JudgeTimeout)
	defer cancel()

	v, err := e.judge.Judge(ctx, userAnswer, correctAnswer, ageGroup)
	if err != nil {
		metrics.EscalationsTotal.WithLabelValues("error").Inc()
		e.logger.Warn("semantic judge failed, defaulting to almost",
			"error", fmt.Errorf("%w: %w", ErrEscalation, err))
		return domain.VerdictAlmost
	}
	metrics.EscalationsTotal.WithLabelValues("ok").Inc()
	return v
}
