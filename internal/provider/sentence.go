package provider

import "strings"

// sentenceBuffer accumulates streamed completion tokens and releases them a
// sentence at a time, so synthesis can start before generation finishes.
// The zero value is ready to use.
type sentenceBuffer struct {
	pending string
}

// Add appends a token and returns any complete sentences now ready for
// synthesis, or "" if no boundary has been reached.
func (s *sentenceBuffer) Add(token string) string {
	s.pending += token
	cut := lastSentenceEnd(s.pending)
	if cut < 0 {
		return ""
	}
	done := strings.TrimSpace(s.pending[:cut])
	s.pending = s.pending[cut:]
	return done
}

// Flush returns whatever text remains, boundary or not.
func (s *sentenceBuffer) Flush() string {
	done := strings.TrimSpace(s.pending)
	s.pending = ""
	return done
}

// lastSentenceEnd finds the position just past the last sentence boundary: a
// terminator (.!?) followed by whitespace. A period inside a number or
// abbreviation has no trailing space and is skipped. Returns -1 if none.
func lastSentenceEnd(text string) int {
	for i := len(text) - 2; i >= 0; i-- {
		if !isSentenceEnd(text[i]) {
			continue
		}
		switch text[i+1] {
		case ' ', '\n', '\t':
			return i + 1
		}
	}
	return -1
}

func isSentenceEnd(ch byte) bool {
	return ch == '.' || ch == '!' || ch == '?'
}
