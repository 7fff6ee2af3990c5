package content

import (
	"fmt"
	"strings"

	"github.com/ashureev/capylingo/internal/domain"
)

const (
	exerciseSystemPrompt = "You create short multiple-choice language exercises for learners and reply with a single JSON object only."
	gameSystemPrompt     = "You are a creative game designer for children's language learning apps. You reply with a single JSON object only."
	judgeSystemPrompt    = "You are an objective language teacher. Reply with exactly one word: correct, almost or wrong."

	// maxExcludedHashes bounds the prompt size for learners with long histories.
	maxExcludedHashes = 50
)

var languageDisplay = map[string]string{
	"russian": "Russian (Русский)",
	"english": "English",
	"korean":  "Korean (한국어)",
	"uzbek":   "Uzbek Cyrillic (Ўзбек кирилл)",
}

func displayLanguage(lang string) string {
	if d, ok := languageDisplay[lang]; ok {
		return d
	}
	return lang
}

func exercisePrompt(req domain.ExerciseRequest) string {
	learn, native := displayLanguage(req.LearnLanguage), displayLanguage(req.NativeLanguage)

	var b strings.Builder
	fmt.Fprintf(&b, "Create one %s level multiple-choice exercise for a learner of %s.\n", req.Level, learn)
	fmt.Fprintf(&b, "Topic: %q. The learner's native language is %s; write the question in it.\n", req.Topic, native)
	fmt.Fprintf(&b, "Answer options must be in %s. For Uzbek use Cyrillic script.\n\n", learn)
	b.WriteString("Return JSON with keys:\n")
	b.WriteString(`- "question": string` + "\n")
	b.WriteString(`- "options": exactly 4 strings` + "\n")
	b.WriteString(`- "correct_index": integer 0..3` + "\n")
	fmt.Fprintf(&b, "- \"explanation\": one short sentence in %s\n", native)
	b.WriteString(`- "visual_prompt": a friendly cartoon image description` + "\n")

	if n := len(req.ExcludeHashes); n > 0 {
		hashes := req.ExcludeHashes
		if n > maxExcludedHashes {
			hashes = hashes[n-maxExcludedHashes:]
		}
		fmt.Fprintf(&b, "\nThe learner already completed %d exercises on this account (fingerprints: %s). Prefer new vocabulary.\n",
			n, strings.Join(hashes, ","))
	}
	b.WriteString("\nDo not include any text outside of the JSON object.")
	return b.String()
}

var gameShapes = map[domain.GameType]string{
	domain.GameMatching: `6 items to match. Return {"game_type":"matching","title":..,"instructions":..,"items":[{"id":1,"word":..,"translation":..,"visual_prompt":..,"sound_text":..}]}`,
	domain.GameMemory:   `8 pairs for a memory card game. Return {"game_type":"memory","title":..,"instructions":..,"pairs":[{"id":1,"word":..,"translation":..,"visual_prompt":..,"sound_text":..}]}`,
	domain.GameDragDrop: `6 words to drag onto matching images. Return {"game_type":"drag_drop","title":..,"instructions":..,"items":[{"id":1,"word":..,"translation":..,"visual_prompt":..,"sound_text":..}]}`,
	domain.GameQuiz:     `5 picture questions. Return {"game_type":"quiz","title":..,"instructions":..,"questions":[{"id":1,"question":..,"visual_prompt":..,"options":[4 strings],"correct_index":0,"sound_text":..}]}`,
}

func gamePrompt(req domain.GameRequest) string {
	learn, native := displayLanguage(req.LearnLanguage), displayLanguage(req.NativeLanguage)
	shape, ok := gameShapes[req.GameType]
	if !ok {
		shape = gameShapes[domain.GameMatching]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a fun %s game for a child learning %s at %s level.\n", req.GameType, learn, req.Level)
	fmt.Fprintf(&b, "Topic: %q.\n", req.Topic)
	fmt.Fprintf(&b, "Title, instructions and translations are in %s; words to learn are in %s.\n", native, learn)
	b.WriteString("Use simple child-friendly vocabulary. For Uzbek use Cyrillic script.\n")
	b.WriteString(shape)
	b.WriteString("\n\nDo not include any text outside of the JSON object.")
	return b.String()
}

func judgePrompt(userAnswer, correctAnswer string, ageGroup domain.AgeGroup) string {
	group := string(ageGroup)
	if group == "" {
		group = "unknown"
	}
	return fmt.Sprintf("Student age group: %s\n\nCorrect answer: %s\nStudent answer: %s\n\nReturn only one word: correct / almost / wrong",
		group, correctAnswer, userAnswer)
}
