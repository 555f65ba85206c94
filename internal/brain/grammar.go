package brain

import "regexp"

// grammarPattern is one entry in the fixed shallow catalogue. A turn matching
// attempt counts as practice; additionally matching mistake counts as an
// error. The catalogue is a heuristic stand-in: a model-based classifier can
// replace it without changing the knowledge event contract.
type grammarPattern struct {
	name    string
	attempt *regexp.Regexp
	mistake *regexp.Regexp
}

var grammarCatalogue = []grammarPattern{
	{
		name:    "past_simple_irregular",
		attempt: regexp.MustCompile(`(?i)\b(went|goed|saw|seed|did|doed|ate|eated|came|comed|took|taked|made|maked)\b`),
		mistake: regexp.MustCompile(`(?i)\b(goed|seed|doed|eated|comed|taked|maked)\b`),
	},
	{
		name:    "third_person_s",
		attempt: regexp.MustCompile(`(?i)\b(he|she|it)\s+(goes|go|wants|want|likes|like|needs|need|has|have|works|work|plays|play)\b`),
		mistake: regexp.MustCompile(`(?i)\b(he|she|it)\s+(go|want|like|need|have|work|play)\b`),
	},
	{
		name:    "do_support_negation",
		attempt: regexp.MustCompile(`(?i)\b(don't|doesn't|didn't|not)\s+\w+`),
		mistake: regexp.MustCompile(`(?i)\b(i|you|we|they|he|she|it)\s+(no|not)\s+(go|want|like|know|have|see|understand)\b`),
	},
	{
		name:    "present_continuous",
		attempt: regexp.MustCompile(`(?i)\b(am|is|are)\s+\w+ing\b|\b(i|he|she|it|we|they|you)\s+\w+ing\b`),
		mistake: regexp.MustCompile(`(?i)\b(i|we|they|you|he|she|it)\s+(go|come|make|work|read|play)ing\b`),
	},
	{
		name:    "article_with_profession",
		attempt: regexp.MustCompile(`(?i)\b(is|am|are)\s+(a\s+|an\s+)?(teacher|doctor|student|engineer|driver|manager)\b`),
		mistake: regexp.MustCompile(`(?i)\b(is|am|are)\s+(teacher|doctor|student|engineer|driver|manager)\b`),
	},
}

// grammarHit is one catalogue match for a user turn.
type grammarHit struct {
	pattern string
	mistake bool
}

// matchGrammar runs the catalogue against one user utterance.
func matchGrammar(text string) []grammarHit {
	var hits []grammarHit
	for _, p := range grammarCatalogue {
		if !p.attempt.MatchString(text) {
			continue
		}
		hits = append(hits, grammarHit{pattern: p.name, mistake: p.mistake.MatchString(text)})
	}
	return hits
}
