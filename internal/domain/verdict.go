package domain

import "strings"

// Verdict is the result of evaluating an answer.
type Verdict int

const (
	VerdictWrong Verdict = iota
	VerdictAlmost
	VerdictCorrect
)

func (v Verdict) String() string {
	switch v {
	case VerdictCorrect:
		return "correct"
	case VerdictAlmost:
		return "almost"
	case VerdictWrong:
		return "wrong"
	}
	return "unknown"
}

// ParseVerdict maps a label to a Verdict. The label must be exactly one of
// correct, almost or wrong (case-insensitive, surrounding space ignored).
func ParseVerdict(label string) (Verdict, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "correct":
		return VerdictCorrect, true
	case "almost":
		return VerdictAlmost, true
	case "wrong":
		return VerdictWrong, true
	}
	return VerdictWrong, false
}
