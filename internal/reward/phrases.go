package reward

import "github.com/ashureev/capylingo/internal/domain"

var phrases = map[domain.Mood]map[string]string{
	domain.MoodHappy: {
		"english": "Correct! Capy is happy 🐹",
		"russian": "Правильно! Капи радуется 🐹",
		"uzbek":   "To'g'ri! Kapi xursand 🐹",
		"korean":  "정답! 카피가 기뻐해요 🐹",
	},
	domain.MoodProud: {
		"english": "Amazing streak! Capy is proud of you 🏆",
		"russian": "Отличная серия! Капи гордится тобой 🏆",
		"uzbek":   "Ajoyib seriya! Kapi sen bilan faxrlanadi 🏆",
		"korean":  "대단한 연속 정답! 카피가 자랑스러워해요 🏆",
	},
	domain.MoodEncouraging: {
		"english": "Not quite. Don't give up, let's try again 💪",
		"russian": "Не совсем. Не сдавайся, попробуем ещё 💪",
		"uzbek":   "Unchalik emas. Taslim bo'lma, yana urinib ko'ramiz 💪",
		"korean":  "아쉬워요. 포기하지 말고 다시 해봐요 💪",
	},
}

// Phrase returns the character line for mood in lang, falling back to russian.
func Phrase(mood domain.Mood, lang string) string {
	byLang, ok := phrases[mood]
	if !ok {
		return ""
	}
	if p, ok := byLang[lang]; ok {
		return p
	}
	return byLang["russian"]
}
