package domain

import (
	"time"
)

// Exercise is a multiple-choice exercise produced by the content generator.
type Exercise struct {
	Question     string   `json:"question" validate:"required"`
	Options      []string `json:"options" validate:"len=4,dive,required"`
	CorrectIndex int      `json:"correct_index" validate:"min=0,max=3"`
	Explanation  string   `json:"explanation,omitempty"`
	VisualPrompt string   `json:"visual_prompt,omitempty"`
}

// ExerciseRequest carries the parameters for generating one exercise.
type ExerciseRequest struct {
	LearnLanguage  string
	NativeLanguage string
	Level          string
	Topic          string
	ExcludeHashes  []string
}

// GameType is the interactive game variant.
type GameType string

const (
	GameMatching GameType = "matching"
	GameMemory   GameType = "memory"
	GameDragDrop GameType = "drag_drop"
	GameQuiz     GameType = "quiz"
)

// GameItem is one card, pair or question of a game.
type GameItem struct {
	ID           int      `json:"id"`
	Word         string   `json:"word,omitempty"`
	Translation  string   `json:"translation,omitempty"`
	Question     string   `json:"question,omitempty"`
	Options      []string `json:"options,omitempty"`
	CorrectIndex *int     `json:"correct_index,omitempty"`
	VisualPrompt string   `json:"visual_prompt,omitempty"`
	SoundText    string   `json:"sound_text,omitempty"`
}

// Game is a generated interactive game.
type Game struct {
	GameType     GameType   `json:"game_type" validate:"required,oneof=matching memory drag_drop quiz"`
	Title        string     `json:"title" validate:"required"`
	Instructions string     `json:"instructions" validate:"required"`
	Items        []GameItem `json:"items" validate:"min=1"`
}

// GameRequest carries the parameters for generating one game.
type GameRequest struct {
	LearnLanguage  string
	NativeLanguage string
	Level          string
	Topic          string
	GameType       GameType
}

// ReviewItem is a missed exercise scheduled for another attempt.
type ReviewItem struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	Word      string           `json:"word"`
	Exercise  *PendingExercise `json:"exercise,omitempty"`
	DueAt     time.Time        `json:"due_at"`
	CreatedAt time.Time        `json:"created_at"`
}
