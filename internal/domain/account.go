package domain

import (
	"time"
)

// Account is the durable per-user game state: lives, premium, streaks and experience.
type Account struct {
	UserID           string     `json:"user_id"`
	Lives            int        `json:"lives"`
	LastRestoreAt    time.Time  `json:"last_restore_at"`
	IsPremium        bool       `json:"is_premium"`
	PremiumUntil     *time.Time `json:"premium_until,omitempty"`
	Streak           int        `json:"streak"`
	DailyStreak      int        `json:"daily_streak"`
	XP               int        `json:"xp"`
	Level            int        `json:"level"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewAccount returns a full-lives, level 1 account for userID.
func NewAccount(userID string, lives int, now time.Time) *Account {
	return &Account{
		UserID:        userID,
		Lives:         lives,
		LastRestoreAt: now,
		Level:         1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// PremiumActive reports whether premium is set and has not expired at now.
func (a *Account) PremiumActive(now time.Time) bool {
	if !a.IsPremium {
		return false
	}
	return a.PremiumUntil == nil || now.Before(*a.PremiumUntil)
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	if a.PremiumUntil != nil {
		t := *a.PremiumUntil
		c.PremiumUntil = &t
	}
	if a.LastActivityDate != nil {
		t := *a.LastActivityDate
		c.LastActivityDate = &t
	}
	return &c
}

// Mood is the character reaction attached to an outcome.
type Mood string

const (
	MoodHappy       Mood = "happy"
	MoodProud       Mood = "proud"
	MoodEncouraging Mood = "encouraging"
)
