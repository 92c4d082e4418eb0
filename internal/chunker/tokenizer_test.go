package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var losslessSamples = []string{
	"plain words only",
	"  leading whitespace, punctuation! And... trailing  ",
	"line one\nline two\n\nline four",
	"tabs\tand\tspaces mixed   together",
	"unicode: naïve café — 日本語のテキスト",
	"single",
	"don't split contractions badly, Dr. Smith's co-worker said.",
}

func TestWordTokenizerLossless(t *testing.T) {
	tok := WordTokenizer{}
	for _, text := range losslessSamples {
		tokens := tok.Tokenize(text)
		require.NotEmpty(t, tokens, "input: %q", text)
		assert.Equal(t, text, strings.Join(tokens, ""), "input: %q", text)
	}
}

func TestWordTokenizerDeterministic(t *testing.T) {
	tok := WordTokenizer{}
	for _, text := range losslessSamples {
		first := tok.Tokenize(text)
		second := tok.Tokenize(text)
		assert.Equal(t, first, second, "input: %q", text)
	}
}

func TestWordTokenizerEmpty(t *testing.T) {
	assert.Nil(t, WordTokenizer{}.Tokenize(""))
}

func TestRuneTokenizer(t *testing.T) {
	tok := RuneTokenizer{}

	tokens := tok.Tokenize("héllo")
	require.Len(t, tokens, 5)
	assert.Equal(t, "héllo", strings.Join(tokens, ""))

	assert.Nil(t, tok.Tokenize(""))
}

func TestScanWhitespaceWordsLossless(t *testing.T) {
	for _, text := range losslessSamples {
		tokens := scanWhitespaceWords(text)
		require.NotEmpty(t, tokens, "input: %q", text)
		assert.Equal(t, text, strings.Join(tokens, ""), "input: %q", text)
	}
}
