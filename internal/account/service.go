// Package account serializes every read-modify-write of a user's durable game state.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
	"github.com/ashureev/capylingo/internal/lives"
	"github.com/ashureev/capylingo/internal/metrics"
	"github.com/ashureev/capylingo/internal/reward"
	"github.com/ashureev/capylingo/internal/shared"
)

// Repository is the slice of the durable store the service needs.
type Repository interface {
	LoadAccount(ctx context.Context, userID string) (*domain.Account, error)
	SaveAccount(ctx context.Context, account *domain.Account) error
}

// Status is a point-in-time view of an account after lazy restoration.
type Status struct {
	Account       *domain.Account `json:"account"`
	Cap           int             `json:"cap"`
	NextRestoreIn time.Duration   `json:"next_restore_in"`
	NextLevelXP   int             `json:"next_level_xp"`
	PremiumActive bool            `json:"premium_active"`
}

// Outcome is the result of recording one graded answer.
type Outcome struct {
	Reward    reward.Result
	LifeSpent bool
	Status    Status
}

// Options configures a Service.
type Options struct {
	FreePremium time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Service owns lives, premium, streak and experience changes for accounts.
type Service struct {
	repo        Repository
	policy      lives.Policy
	rewards     *reward.Engine
	locks       *shared.KeyedMutex
	freePremium time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewService creates an account service.
func NewService(repo Repository, policy lives.Policy, rewards *reward.Engine, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		policy:      policy,
		rewards:     rewards,
		locks:       shared.NewKeyedMutex(),
		freePremium: opts.FreePremium,
		now:         opts.Now,
		logger:      opts.Logger,
	}
}

// Policy returns the lives policy in use.
func (s *Service) Policy() lives.Policy { return s.policy }

// Status restores lives and returns the account, creating it on first use.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	return s.update(ctx, userID, nil)
}

// CanSpend reports whether the user may start another exercise.
func (s *Service) CanSpend(ctx context.Context, userID string) (bool, Status, error) {
	st, err := s.update(ctx, userID, nil)
	if err != nil {
		return false, Status{}, err
	}
	return st.PremiumActive || st.Account.Lives > 0, st, nil
}

// Spend takes one life. It returns lives.ErrNoLivesLeft when none are left.
func (s *Service) Spend(ctx context.Context, userID string) (Status, error) {
	return s.update(ctx, userID, func(a *domain.Account, now time.Time) error {
		return s.spend(a, now)
	})
}

// RecordAnswer applies a graded answer: rewards on success, a lost life and a
// streak reset on failure. Lives are checked under the same lock as the reward.
func (s *Service) RecordAnswer(ctx context.Context, userID string, success bool, lang string) (Outcome, error) {
	var out Outcome
	st, err := s.update(ctx, userID, func(a *domain.Account, now time.Time) error {
		out.Reward = s.rewards.Apply(a, success, now, lang)
		if success {
			return nil
		}
		err := s.spend(a, now)
		switch {
		case err == nil:
			out.LifeSpent = !a.PremiumActive(now)
		case errors.Is(err, lives.ErrNoLivesLeft):
			// Already empty; the miss still counts for the streak.
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out.Status = st
	return out, nil
}

// GrantPremium extends premium by the given number of days.
func (s *Service) GrantPremium(ctx context.Context, userID string, days int) (Status, error) {
	if days <= 0 {
		return Status{}, fmt.Errorf("premium days must be > 0, got %d", days)
	}
	return s.update(ctx, userID, func(a *domain.Account, now time.Time) error {
		s.policy.GrantPremium(a, time.Duration(days)*24*time.Hour, now)
		s.logger.Info("premium granted", "user_id", userID, "days", days, "premium_until", a.PremiumUntil)
		return nil
	})
}

// AddLives grants bonus lives up to the cap.
func (s *Service) AddLives(ctx context.Context, userID string, n int) (Status, error) {
	if n <= 0 {
		return Status{}, fmt.Errorf("lives amount must be > 0, got %d", n)
	}
	return s.update(ctx, userID, func(a *domain.Account, now time.Time) error {
		s.policy.Add(a, n, now)
		return nil
	})
}

func (s *Service) spend(a *domain.Account, now time.Time) error {
	if err := s.policy.Spend(a, now); err != nil {
		return err
	}
	if !a.PremiumActive(now) {
		metrics.LivesSpentTotal.Inc()
	}
	return nil
}

// update runs fn on the restored account under the per-user lock and saves it.
// A nil fn only restores and persists.
func (s *Service) update(ctx context.Context, userID string, fn func(*domain.Account, time.Time) error) (Status, error) {
	if userID == "" {
		return Status{}, errors.New("empty user id")
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.now()
	a, err := s.repo.LoadAccount(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("load account %s: %w", userID, err)
	}
	if a == nil {
		a = domain.NewAccount(userID, s.policy.Cap(), now)
		if s.freePremium > 0 {
			s.policy.GrantPremium(a, s.freePremium, now)
		}
		s.logger.Info("account created", "user_id", userID, "free_premium", s.freePremium)
	}

	s.policy.RestoreIfNeeded(a, now)
	if fn != nil {
		if err := fn(a, now); err != nil {
			return Status{}, err
		}
	}
	a.UpdatedAt = now

	if err := s.repo.SaveAccount(ctx, a); err != nil {
		return Status{}, fmt.Errorf("save account %s: %w", userID, err)
	}

	return Status{
		Account:       a.Clone(),
		Cap:           s.policy.Cap(),
		NextRestoreIn: s.policy.NextRestoreIn(a, now),
		NextLevelXP:   s.rewards.NextLevelXP(a.Level),
		PremiumActive: a.PremiumActive(now),
	}, nil
}
