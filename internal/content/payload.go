package content

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ashureev/capylingo/internal/domain"
)

var validate = validator.New()

// ExtractJSON returns the JSON object embedded in a model reply, which may be
// wrapped in a markdown code fence or surrounded by prose.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

type exerciseWire struct {
	Question           string   `json:"question"`
	Options            []string `json:"options"`
	CorrectIndex       *int     `json:"correct_index"`
	CorrectAnswerIndex *int     `json:"correct_answer_index"`
	Explanation        string   `json:"explanation"`
	VisualPrompt       string   `json:"visual_prompt"`
}

// DecodeExercise parses and validates an exercise payload.
func DecodeExercise(raw string) (domain.Exercise, error) {
	var w exerciseWire
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &w); err != nil {
		return domain.Exercise{}, fmt.Errorf("%w: decode exercise: %w", ErrMalformed, err)
	}

	idx := w.CorrectIndex
	if idx == nil {
		idx = w.CorrectAnswerIndex
	}
	if idx == nil {
		return domain.Exercise{}, fmt.Errorf("%w: exercise has no correct_index", ErrMalformed)
	}

	ex := domain.Exercise{
		Question:     strings.TrimSpace(w.Question),
		Options:      trimAll(w.Options),
		CorrectIndex: *idx,
		Explanation:  strings.TrimSpace(w.Explanation),
		VisualPrompt: strings.TrimSpace(w.VisualPrompt),
	}
	if err := validate.Struct(ex); err != nil {
		return domain.Exercise{}, fmt.Errorf("%w: invalid exercise: %w", ErrMalformed, err)
	}
	return ex, nil
}

type gameWire struct {
	GameType     string            `json:"game_type"`
	Title        string            `json:"title"`
	Instructions string            `json:"instructions"`
	Items        []domain.GameItem `json:"items"`
	Pairs        []domain.GameItem `json:"pairs"`
	Questions    []domain.GameItem `json:"questions"`
}

// DecodeGame parses a game payload. Memory games list "pairs" and quizzes list
// "questions"; both are folded into Items.
func DecodeGame(raw string, want domain.GameType) (domain.Game, error) {
	var w gameWire
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &w); err != nil {
		return domain.Game{}, fmt.Errorf("%w: decode game: %w", ErrMalformed, err)
	}

	g := domain.Game{
		GameType:     domain.GameType(strings.TrimSpace(w.GameType)),
		Title:        strings.TrimSpace(w.Title),
		Instructions: strings.TrimSpace(w.Instructions),
	}
	if g.GameType == "" {
		g.GameType = want
	}
	switch {
	case len(w.Items) > 0:
		g.Items = w.Items
	case len(w.Pairs) > 0:
		g.Items = w.Pairs
	default:
		g.Items = w.Questions
	}
	for i := range g.Items {
		if g.Items[i].ID == 0 {
			g.Items[i].ID = i + 1
		}
	}

	if err := validate.Struct(g); err != nil {
		return domain.Game{}, fmt.Errorf("%w: invalid game: %w", ErrMalformed, err)
	}
	if want != "" && g.GameType != want {
		return domain.Game{}, fmt.Errorf("%w: asked for %s game, got %s", ErrMalformed, want, g.GameType)
	}
	if g.GameType == domain.GameQuiz {
		for _, it := range g.Items {
			if it.CorrectIndex == nil || *it.CorrectIndex < 0 || *it.CorrectIndex >= len(it.Options) {
				return domain.Game{}, fmt.Errorf("%w: quiz question %d has no valid correct_index", ErrMalformed, it.ID)
			}
		}
	}
	return g, nil
}

// ParseJudgeReply reads a judge label. The first word must be one of
// correct, almost or wrong; anything else is malformed.
func ParseJudgeReply(text string) (domain.Verdict, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return domain.VerdictAlmost, fmt.Errorf("%w: empty judge reply", ErrMalformed)
	}
	label := strings.Trim(fields[0], ".,!:;\"'`*")
	v, ok := domain.ParseVerdict(label)
	if !ok {
		return domain.VerdictAlmost, fmt.Errorf("%w: unknown judge label %q", ErrMalformed, fields[0])
	}
	return v, nil
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
