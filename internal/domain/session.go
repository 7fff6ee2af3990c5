// Package domain contains core domain types for the capylingo engine.
package domain

import (
	"time"
)

// State is a conversation state of a chat session.
type State string

const (
	StateStart                  State = "start"
	StateChoosingNativeLanguage State = "choosing_native_language"
	StateChoosingLearnLanguage  State = "choosing_learn_language"
	StateChoosingLevel          State = "choosing_level"
	StateChoosingTopic          State = "choosing_topic"
	StateInExercise             State = "in_exercise"
	StateChoosingGameType       State = "choosing_game_type"
	StateChoosingGameTopic      State = "choosing_game_topic"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateStart, StateChoosingNativeLanguage, StateChoosingLearnLanguage,
		StateChoosingLevel, StateChoosingTopic, StateInExercise,
		StateChoosingGameType, StateChoosingGameTopic:
		return true
	}
	return false
}

// AgeGroup selects the answer evaluation policy.
type AgeGroup string

const (
	AgeGroupAdult AgeGroup = "adult"
	AgeGroupKid   AgeGroup = "kid"
)

// PendingExercise is the exercise currently presented to the learner.
type PendingExercise struct {
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
	VisualPrompt string   `json:"visual_prompt,omitempty"`
	Topic        string   `json:"topic"`
	Hash         string   `json:"hash"`
	IsReview     bool     `json:"is_review,omitempty"`
}

// CorrectOption returns the text of the correct option, or "" if the index is out of range.
func (p *PendingExercise) CorrectOption() string {
	if p == nil || p.CorrectIndex < 0 || p.CorrectIndex >= len(p.Options) {
		return ""
	}
	return p.Options[p.CorrectIndex]
}

// Session holds the conversation context for one remote conversant.
type Session struct {
	Key            string           `json:"key"`
	State          State            `json:"state"`
	NativeLanguage string           `json:"native_language,omitempty"`
	LearnLanguage  string           `json:"learn_language,omitempty"`
	Level          string           `json:"level,omitempty"`
	Topic          string           `json:"topic,omitempty"`
	GameType       string           `json:"game_type,omitempty"`
	AgeGroup       AgeGroup         `json:"age_group,omitempty"`
	Pending        *PendingExercise `json:"pending,omitempty"`
	ExpectedAnswer string           `json:"expected_answer,omitempty"`
	Version        uint64           `json:"version"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewSession returns a fresh session resting in the start state.
func NewSession(key string) Session {
	return Session{Key: key, State: StateStart, AgeGroup: AgeGroupAdult}
}

// HasProfile reports whether languages and level are chosen.
func (s Session) HasProfile() bool {
	return s.NativeLanguage != "" && s.LearnLanguage != "" && s.Level != ""
}

// SessionPatch declares the field effects of a transition. Nil fields are left untouched.
type SessionPatch struct {
	State          *State
	NativeLanguage *string
	LearnLanguage  *string
	Level          *string
	Topic          *string
	GameType       *string
	AgeGroup       *AgeGroup
	Pending        *PendingExercise
	ClearPending   bool
}

// Ref returns a pointer to v, for building patches inline.
func Ref[T any](v T) *T {
	return &v
}

// ApplyTransition merges p into s and returns the updated copy.
// The expected answer slot is never touched here; it is owned by the session store.
func ApplyTransition(s Session, p SessionPatch) Session {
	if p.State != nil {
		s.State = *p.State
	}
	if p.NativeLanguage != nil {
		s.NativeLanguage = *p.NativeLanguage
	}
	if p.LearnLanguage != nil {
		s.LearnLanguage = *p.LearnLanguage
	}
	if p.Level != nil {
		s.Level = *p.Level
	}
	if p.Topic != nil {
		s.Topic = *p.Topic
	}
	if p.GameType != nil {
		s.GameType = *p.GameType
	}
	if p.AgeGroup != nil {
		s.AgeGroup = *p.AgeGroup
	}
	if p.ClearPending {
		s.Pending = nil
	}
	if p.Pending != nil {
		pending := *p.Pending
		pending.Options = append([]string(nil), p.Pending.Options...)
		s.Pending = &pending
	}
	return s
}

// Clone returns a copy of s that shares no memory with it.
func (s Session) Clone() Session {
	if s.Pending != nil {
		p := *s.Pending
		p.Options = append([]string(nil), s.Pending.Options...)
		s.Pending = &p
	}
	return s
}
