package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentenceBufferSplitsAtBoundary(t *testing.T) {
	var sb sentenceBuffer
	assert.Empty(t, sb.Add("Hello"))
	assert.Empty(t, sb.Add(" there"))
	got := sb.Add(". How")
	assert.Equal(t, "Hello there.", got)
	assert.Equal(t, "How", sb.Flush())
}

func TestSentenceBufferMultipleSentences(t *testing.T) {
	var sb sentenceBuffer
	got := sb.Add("One. Two! Three? Rest")
	assert.Equal(t, "One. Two! Three?", got)
	assert.Equal(t, "Rest", sb.Flush())
}

func TestSentenceBufferNoBoundaryInsideNumbers(t *testing.T) {
	var sb sentenceBuffer
	// "3.5" has no whitespace after the period, so it is not a boundary
	assert.Empty(t, sb.Add("about 3.5 hours"))
	assert.Equal(t, "about 3.5 hours", sb.Flush())
}

func TestLastSentenceEnd(t *testing.T) {
	assert.Equal(t, -1, lastSentenceEnd("no ending here"))
	assert.Equal(t, -1, lastSentenceEnd("trailing dot."))
	assert.Equal(t, 5, lastSentenceEnd("Done. More"))
}
