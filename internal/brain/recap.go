package brain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fluentvoice/lesson-gateway/internal/store"
)

// composeRecap builds the short natural-language bridge stored for the next
// lesson from the signals and turns accumulated during this one.
func composeRecap(lessonNumber int, turns []store.Turn, weakWords, grammarMistakes []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lesson %d: the student and tutor exchanged %d turns.", lessonNumber, len(turns))

	if topic := lastStudentTopic(turns); topic != "" {
		fmt.Fprintf(&sb, " The conversation ended on: %q.", topic)
	}
	if len(weakWords) > 0 {
		fmt.Fprintf(&sb, " Vocabulary to revisit: %s.", strings.Join(dedupStrings(weakWords, 5), ", "))
	}
	if len(grammarMistakes) > 0 {
		fmt.Fprintf(&sb, " Grammar that needs practice: %s.", strings.Join(dedupStrings(grammarMistakes, 3), ", "))
	}
	return sb.String()
}

// ComposePauseSummary derives a short "what we were doing" note from the
// turns so far, used when no provider completion is available for it.
func ComposePauseSummary(turns []store.Turn) string {
	if len(turns) == 0 {
		return "The lesson had just started."
	}
	var sb strings.Builder
	sb.WriteString("We were in the middle of the lesson.")
	if topic := lastStudentTopic(turns); topic != "" {
		fmt.Fprintf(&sb, " The student last said: %q.", topic)
	}
	if last := lastBySpeaker(turns, store.SpeakerAssistant); last != "" {
		fmt.Fprintf(&sb, " The tutor last said: %q.", truncate(last, 140))
	}
	return sb.String()
}

func lastStudentTopic(turns []store.Turn) string {
	return truncate(lastBySpeaker(turns, store.SpeakerUser), 140)
}

func lastBySpeaker(turns []store.Turn, speaker store.Speaker) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Speaker == speaker && strings.TrimSpace(turns[i].Text) != "" {
			return strings.TrimSpace(turns[i].Text)
		}
	}
	return ""
}

// truncate cuts at a rune boundary so multibyte text stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func dedupStrings(in []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) == limit {
			break
		}
	}
	return out
}
