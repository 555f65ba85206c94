package rules

import "strings"

// Directive categories detected in student speech.
const (
	TypeLanguageSwitch      = "language_switch"
	TypeSpeechPace          = "speech_pace"
	TypeCorrectionFrequency = "correction_frequency"
)

// pattern binds one spoken phrase to the imperative directive it implies.
// Phrases are matched case-insensitively as substrings of the user turn.
type pattern struct {
	phrase string
	value  string
}

var directivePatterns = map[string][]pattern{
	TypeSpeechPace: {
		{"speak slower", "Speak noticeably slower, with clear pauses between phrases."},
		{"slow down", "Speak noticeably slower, with clear pauses between phrases."},
		{"too fast", "Speak noticeably slower, with clear pauses between phrases."},
		{"speak faster", "Speak at a brisker, natural conversational pace."},
		{"говори медленнее", "Speak noticeably slower, with clear pauses between phrases."},
		{"помедленнее", "Speak noticeably slower, with clear pauses between phrases."},
		{"слишком быстро", "Speak noticeably slower, with clear pauses between phrases."},
		{"побыстрее", "Speak at a brisker, natural conversational pace."},
	},
	TypeLanguageSwitch: {
		{"speak english", "Conduct the lesson in English from now on."},
		{"switch to english", "Conduct the lesson in English from now on."},
		{"in english please", "Conduct the lesson in English from now on."},
		{"speak russian", "Conduct the lesson in Russian from now on."},
		{"switch to russian", "Conduct the lesson in Russian from now on."},
		{"говори по-английски", "Conduct the lesson in English from now on."},
		{"давай по-английски", "Conduct the lesson in English from now on."},
		{"говори по-русски", "Conduct the lesson in Russian from now on."},
		{"давай по-русски", "Conduct the lesson in Russian from now on."},
	},
	TypeCorrectionFrequency: {
		{"correct me more", "Correct every noticeable mistake the student makes, briefly and kindly."},
		{"correct my mistakes", "Correct every noticeable mistake the student makes, briefly and kindly."},
		{"don't correct me", "Stop interrupting with corrections; only correct when asked."},
		{"stop correcting", "Stop interrupting with corrections; only correct when asked."},
		{"исправляй меня", "Correct every noticeable mistake the student makes, briefly and kindly."},
		{"исправляй ошибки", "Correct every noticeable mistake the student makes, briefly and kindly."},
		{"не исправляй", "Stop interrupting with corrections; only correct when asked."},
	},
}

// matchDirectives returns at most one matched directive value per category.
func matchDirectives(text string) map[string]string {
	lower := strings.ToLower(text)
	matched := make(map[string]string)
	for category, patterns := range directivePatterns {
		for _, p := range patterns {
			if strings.Contains(lower, p.phrase) {
				matched[category] = p.value
				break
			}
		}
	}
	return matched
}
