package brain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectRecasts(t *testing.T) {
	got := detectRecasts("I writed a letter to my friend", "You wrote a letter, lovely!")
	require.Len(t, got, 1)
	assert.Equal(t, "writed", got[0].StudentWord)
	assert.Equal(t, "wrote", got[0].Corrected)
}

func TestDetectRecastsNoCorrection(t *testing.T) {
	assert.Empty(t, detectRecasts("I wrote a letter", "Great, you wrote well"))
}

func TestDetectRecastsIgnoresShortWords(t *testing.T) {
	// "cat"/"cap" are below the length floor
	assert.Empty(t, detectRecasts("my cat is big", "your cap is big"))
}

func TestDetectRecastsRequiresSameFirstLetter(t *testing.T) {
	// goed→went is a correction but the heuristic cannot link them
	assert.Empty(t, detectRecasts("I goed home", "you went home"))
}

func TestEditDistance(t *testing.T) {
	assert.Equal(t, 0, editDistance("apple", "apple"))
	assert.Equal(t, 1, editDistance("aple", "apple"))
	assert.Equal(t, 2, editDistance("writed", "wrote"))
	assert.Equal(t, 4, editDistance("", "gone"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"don't", "stop", "me"}, tokenize("Don't stop, me!"))
}
