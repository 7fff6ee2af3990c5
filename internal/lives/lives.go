// Package lives implements the capped, time-regenerating lives economy.
//
// Regeneration is a leaky bucket: restored units advance the restore timestamp by
// whole intervals, so partial progress toward the next life survives every check.
package lives

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
)

// ErrNoLivesLeft is returned by Spend when a non-premium account has no lives.
var ErrNoLivesLeft = errors.New("no lives left")

// Policy holds the capacity and regeneration interval of the lives economy.
type Policy struct {
	capacity int
	interval time.Duration
}

// NewPolicy creates a lives policy. Both capacity and interval must be positive.
func NewPolicy(capacity int, restoreInterval time.Duration) (Policy, error) {
	if capacity <= 0 {
		return Policy{}, fmt.Errorf("lives capacity must be > 0, got %d", capacity)
	}
	if restoreInterval <= 0 {
		return Policy{}, fmt.Errorf("lives restore interval must be > 0, got %s", restoreInterval)
	}
	return Policy{capacity: capacity, interval: restoreInterval}, nil
}

// Cap returns the maximum number of lives.
func (p Policy) Cap() int { return p.capacity }

// Interval returns the time needed to restore one life.
func (p Policy) Interval() time.Duration { return p.interval }

// RestoreIfNeeded brings the account up to date at now. It is idempotent for a fixed now.
func (p Policy) RestoreIfNeeded(a *domain.Account, now time.Time) {
	if a.IsPremium {
		if a.PremiumActive(now) {
			a.Lives = p.capacity
			a.LastRestoreAt = now
			return
		}
		// Expired premium falls back to regular regeneration, no refill.
		a.IsPremium = false
		a.PremiumUntil = nil
	}

	if a.LastRestoreAt.IsZero() {
		a.LastRestoreAt = now
		return
	}
	if a.Lives >= p.capacity {
		a.Lives = p.capacity
		return
	}

	elapsed := now.Sub(a.LastRestoreAt)
	if elapsed < p.interval {
		return
	}
	units := int(elapsed / p.interval)
	a.Lives = min(p.capacity, a.Lives+units)
	a.LastRestoreAt = a.LastRestoreAt.Add(time.Duration(units) * p.interval)
}

// CanSpend reports whether the account may start another exercise.
func (p Policy) CanSpend(a *domain.Account, now time.Time) bool {
	p.RestoreIfNeeded(a, now)
	return a.PremiumActive(now) || a.Lives > 0
}

// Spend takes one life. Premium accounts are never charged.
func (p Policy) Spend(a *domain.Account, now time.Time) error {
	p.RestoreIfNeeded(a, now)
	if a.PremiumActive(now) {
		return nil
	}
	if a.Lives <= 0 {
		return ErrNoLivesLeft
	}
	if a.Lives >= p.capacity {
		// The timer is frozen while full; it starts with the first spent life.
		a.LastRestoreAt = now
	}
	a.Lives--
	return nil
}

// Add grants bonus lives up to the cap. It is a no-op for premium accounts.
func (p Policy) Add(a *domain.Account, n int, now time.Time) {
	p.RestoreIfNeeded(a, now)
	if n <= 0 || a.PremiumActive(now) {
		return
	}
	a.Lives = min(p.capacity, a.Lives+n)
}

// NextRestoreIn returns the time until the next life is restored, or 0 when full.
func (p Policy) NextRestoreIn(a *domain.Account, now time.Time) time.Duration {
	p.RestoreIfNeeded(a, now)
	if a.PremiumActive(now) || a.Lives >= p.capacity {
		return 0
	}
	wait := p.interval - now.Sub(a.LastRestoreAt)
	if wait < 0 {
		return 0
	}
	return wait
}

// GrantPremium extends premium by d, stacking on top of an unexpired grant.
func (p Policy) GrantPremium(a *domain.Account, d time.Duration, now time.Time) {
	base := now
	if a.PremiumActive(now) && a.PremiumUntil != nil {
		base = *a.PremiumUntil
	}
	until := base.Add(d)
	a.IsPremium = true
	a.PremiumUntil = &until
	p.RestoreIfNeeded(a, now)
}
