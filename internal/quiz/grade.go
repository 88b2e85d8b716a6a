package quiz

import (
	"regexp"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
)

var choiceLetterRe = regexp.MustCompile(`\b([A-Da-d])\b`)

// NormalizeTF maps loose true/false inputs onto canonical "true"/"false".
func NormalizeTF(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	switch normalized {
	case "t", "true", "yes", "y":
		return "true"
	case "f", "false", "no", "n":
		return "false"
	}
	return normalized
}

// ExtractChoiceLetter pulls a standalone A-D letter out of an answer,
// uppercased, or returns "".
func ExtractChoiceLetter(text string) string {
	if m := choiceLetterRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

// Grade checks a user answer against a question. Multiple choice
// accepts either the option letter or the full option text; short
// answers require a case-insensitive exact match.
func Grade(q document.Question, userAnswer string) bool {
	switch q.Type {
	case document.MultipleChoice:
		return gradeMCQ(userAnswer, q.Answer, q.Options)
	case document.ShortAnswer, document.Calculation:
		return strings.EqualFold(strings.TrimSpace(userAnswer), strings.TrimSpace(q.Answer))
	default:
		return NormalizeTF(userAnswer) == NormalizeTF(q.Answer)
	}
}

func gradeMCQ(userAnswer, correct string, options []string) bool {
	correctLetter := ExtractChoiceLetter(correct)
	if correctLetter == "" {
		for i, opt := range options {
			if strings.EqualFold(strings.TrimSpace(correct), strings.TrimSpace(opt)) {
				correctLetter = string(rune('A' + i))
				break
			}
		}
	}

	if userLetter := ExtractChoiceLetter(userAnswer); userLetter != "" {
		return userLetter == correctLetter
	}

	for i, opt := range options {
		if strings.EqualFold(strings.TrimSpace(userAnswer), strings.TrimSpace(opt)) {
			return string(rune('A'+i)) == correctLetter
		}
	}
	return false
}
