package brain

import (
	"strings"
	"unicode"
)

// recast detects the tutor implicitly correcting a student word by repeating
// it in corrected form: a word in the assistant turn that is absent from the
// student turn but within small edit distance of one of its words.
type recast struct {
	StudentWord string `json:"student_word"`
	Corrected   string `json:"corrected"`
}

const (
	minRecastWordLen = 4
	maxEditDistance  = 2
)

// detectRecasts compares a student utterance with the assistant reply that
// followed it and returns weak-word candidates.
func detectRecasts(studentText, assistantText string) []recast {
	studentWords := tokenize(studentText)
	assistantWords := tokenize(assistantText)

	assistantSet := make(map[string]bool, len(assistantWords))
	for _, w := range assistantWords {
		assistantSet[w] = true
	}

	var out []recast
	seen := make(map[string]bool)
	for _, sw := range studentWords {
		if len(sw) < minRecastWordLen || assistantSet[sw] {
			continue
		}
		for _, aw := range assistantWords {
			if len(aw) < minRecastWordLen || seen[aw] || aw[0] != sw[0] {
				continue
			}
			if d := editDistance(sw, aw); d > 0 && d <= maxEditDistance {
				seen[aw] = true
				out = append(out, recast{StudentWord: sw, Corrected: aw})
				break
			}
		}
	}
	return out
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// editDistance is Levenshtein distance with two rolling rows.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
