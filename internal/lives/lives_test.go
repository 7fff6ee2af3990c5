package lives

import (
	"testing"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPolicy(t *testing.T) Policy {
	t.Helper()
	p, err := NewPolicy(6, 30*time.Minute)
	require.NoError(t, err)
	return p
}

func TestNewPolicyRejectsInvalidConfig(t *testing.T) {
	_, err := NewPolicy(0, time.Minute)
	assert.Error(t, err)
	_, err = NewPolicy(6, 0)
	assert.Error(t, err)
}

func TestRestoreFromEmptyAfter95Minutes(t *testing.T) {
	p := newPolicy(t)
	a := &domain.Account{UserID: "u", Lives: 0, LastRestoreAt: t0}

	p.RestoreIfNeeded(a, t0.Add(95*time.Minute))

	assert.Equal(t, 3, a.Lives)
	assert.Equal(t, t0.Add(90*time.Minute), a.LastRestoreAt)
}

func TestPartialProgressIsPreserved(t *testing.T) {
	p := newPolicy(t)
	split := &domain.Account{Lives: 0, LastRestoreAt: t0}
	single := &domain.Account{Lives: 0, LastRestoreAt: t0}

	p.RestoreIfNeeded(split, t0.Add(45*time.Minute))
	p.RestoreIfNeeded(split, t0.Add(60*time.Minute))
	p.RestoreIfNeeded(single, t0.Add(60*time.Minute))

	assert.Equal(t, single.Lives, split.Lives)
	assert.Equal(t, 2, split.Lives)
	assert.Equal(t, single.LastRestoreAt, split.LastRestoreAt)
}

func TestRestoreIsMonotonicAndCapped(t *testing.T) {
	p := newPolicy(t)
	a := &domain.Account{Lives: 1, LastRestoreAt: t0}

	prev := a.Lives
	for m := 0; m <= 600; m += 7 {
		p.RestoreIfNeeded(a, t0.Add(time.Duration(m)*time.Minute))
		require.GreaterOrEqual(t, a.Lives, prev)
		require.LessOrEqual(t, a.Lives, p.Cap())
		prev = a.Lives
	}
	assert.Equal(t, 6, a.Lives)
}

func TestRestoreIsIdempotentForSameInstant(t *testing.T) {
	p := newPolicy(t)
	a := &domain.Account{Lives: 2, LastRestoreAt: t0}
	now := t0.Add(70 * time.Minute)

	p.RestoreIfNeeded(a, now)
	first := *a
	p.RestoreIfNeeded(a, now)

	assert.Equal(t, first, *a)
}

func TestSpendFromFullStartsTimer(t *testing.T) {
	p := newPolicy(t)
	a := domain.NewAccount("u", 6, t0)
	now := t0.Add(5 * time.Hour)

	require.NoError(t, p.Spend(a, now))
	assert.Equal(t, 5, a.Lives)
	assert.Equal(t, now, a.LastRestoreAt)

	assert.Equal(t, 30*time.Minute, p.NextRestoreIn(a, now))
	p.RestoreIfNeeded(a, now.Add(29*time.Minute))
	assert.Equal(t, 5, a.Lives)
	p.RestoreIfNeeded(a, now.Add(30*time.Minute))
	assert.Equal(t, 6, a.Lives)
}

func TestSpendNeverGoesBelowZero(t *testing.T) {
	p := newPolicy(t)
	a := &domain.Account{Lives: 1, LastRestoreAt: t0}

	require.NoError(t, p.Spend(a, t0))
	assert.ErrorIs(t, p.Spend(a, t0), ErrNoLivesLeft)
	assert.Equal(t, 0, a.Lives)
	assert.False(t, p.CanSpend(a, t0))
}

func TestPremiumIsNeverCharged(t *testing.T) {
	p := newPolicy(t)
	a := &domain.Account{Lives: 0, LastRestoreAt: t0}
	p.GrantPremium(a, 24*time.Hour, t0)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Spend(a, t0.Add(time.Minute)))
	}
	assert.Equal(t, 6, a.Lives)
	assert.True(t, p.CanSpend(a, t0.Add(time.Hour)))
}

func TestExpiredPremiumFallsBackWithoutRefill(t *testing.T) {
	p := newPolicy(t)
	until := t0.Add(time.Hour)
	a := &domain.Account{Lives: 1, LastRestoreAt: t0, IsPremium: true, PremiumUntil: &until}

	// Never checked while premium was active; expiry must not refill.
	p.RestoreIfNeeded(a, t0.Add(61*time.Minute))

	assert.False(t, a.IsPremium)
	assert.Nil(t, a.PremiumUntil)
	assert.Equal(t, 3, a.Lives, "two regular intervals elapsed since t0")
}

func TestGrantPremiumStacks(t *testing.T) {
	p := newPolicy(t)
	a := domain.NewAccount("u", 6, t0)

	p.GrantPremium(a, 24*time.Hour, t0)
	p.GrantPremium(a, 24*time.Hour, t0.Add(time.Hour))

	require.NotNil(t, a.PremiumUntil)
	assert.Equal(t, t0.Add(48*time.Hour), *a.PremiumUntil)
}

func TestAddIsCapped(t *testing.T) {
	p := newPolicy(t)
	a := &domain.Account{Lives: 4, LastRestoreAt: t0}

	p.Add(a, 5, t0)
	assert.Equal(t, 6, a.Lives)
}
