// Package reward turns answer outcomes into character reactions, experience and streaks.
package reward

import (
	"fmt"
	"time"

	"github.com/ashureev/capylingo/internal/domain"
)

// Config tunes the reward economy.
type Config struct {
	// HighStreakThreshold is the streak (before this answer) from which a success is "proud".
	HighStreakThreshold int
	HappyXP             int
	ProudXP             int
	// LevelXPBase scales the per-level threshold: reaching level n+1 costs n*LevelXPBase.
	LevelXPBase int
}

// DefaultConfig matches the product defaults.
func DefaultConfig() Config {
	return Config{HighStreakThreshold: 3, HappyXP: 10, ProudXP: 15, LevelXPBase: 100}
}

// Reaction is the character response to one outcome.
type Reaction struct {
	Mood    domain.Mood `json:"mood"`
	Message string      `json:"message"`
	XPDelta int         `json:"xp_delta"`
}

// Result is a Reaction plus the account changes Apply made.
type Result struct {
	Reaction
	Streak      int  `json:"streak"`
	DailyStreak int  `json:"daily_streak"`
	XP          int  `json:"xp"`
	Level       int  `json:"level"`
	LeveledUp   bool `json:"leveled_up"`
}

// Engine computes reactions and applies them to accounts.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.HighStreakThreshold < 1 {
		return nil, fmt.Errorf("high streak threshold must be >= 1, got %d", cfg.HighStreakThreshold)
	}
	if cfg.LevelXPBase < 1 {
		return nil, fmt.Errorf("level xp base must be >= 1, got %d", cfg.LevelXPBase)
	}
	if cfg.HappyXP < 0 || cfg.ProudXP < 0 {
		return nil, fmt.Errorf("xp rewards must be >= 0")
	}
	return &Engine{cfg: cfg}, nil
}

// OnOutcome picks the reaction for an outcome given the streak before it.
func (e *Engine) OnOutcome(success bool, currentStreak int, lang string) Reaction {
	var r Reaction
	switch {
	case !success:
		r = Reaction{Mood: domain.MoodEncouraging}
	case currentStreak >= e.cfg.HighStreakThreshold:
		r = Reaction{Mood: domain.MoodProud, XPDelta: e.cfg.ProudXP}
	default:
		r = Reaction{Mood: domain.MoodHappy, XPDelta: e.cfg.HappyXP}
	}
	r.Message = Phrase(r.Mood, lang)
	return r
}

// Apply records the outcome on the account: streak, experience, level and daily streak.
// A failure resets the streak and grants nothing.
func (e *Engine) Apply(a *domain.Account, success bool, now time.Time, lang string) Result {
	r := e.OnOutcome(success, a.Streak, lang)
	res := Result{Reaction: r}

	if a.Level < 1 {
		a.Level = 1
	}
	if success {
		a.Streak++
		a.XP += r.XPDelta
		for a.XP >= e.threshold(a.Level) {
			a.XP -= e.threshold(a.Level)
			a.Level++
			res.LeveledUp = true
		}
		touchDaily(a, now)
	} else {
		a.Streak = 0
	}

	res.Streak = a.Streak
	res.DailyStreak = a.DailyStreak
	res.XP = a.XP
	res.Level = a.Level
	return res
}

// NextLevelXP returns the experience needed to leave level.
func (e *Engine) NextLevelXP(level int) int {
	return e.threshold(max(level, 1))
}

func (e *Engine) threshold(level int) int {
	return level * e.cfg.LevelXPBase
}

func touchDaily(a *domain.Account, now time.Time) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	switch {
	case a.LastActivityDate == nil:
		a.DailyStreak = 1
	case today.Equal(*a.LastActivityDate):
		if a.DailyStreak < 1 {
			a.DailyStreak = 1
		}
		return
	case today.Sub(*a.LastActivityDate) == 24*time.Hour:
		a.DailyStreak++
	default:
		a.DailyStreak = 1
	}
	a.LastActivityDate = &today
}
