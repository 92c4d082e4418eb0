package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"
)

// Tokenizer splits text into tokens whose in-order concatenation reproduces
// the input exactly. The lossless invariant is what lets chunk texts be
// reassembled into the original document without character loss.
type Tokenizer interface {
	Tokenize(text string) []string
}

// WordTokenizer estimates tokens at word granularity using prose's
// tokenizer, re-anchored to the source text so surrounding whitespace rides
// with its token and the lossless invariant holds.
type WordTokenizer struct{}

func (WordTokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return scanWhitespaceWords(text)
	}

	var tokens []string
	pos := 0
	for _, tok := range doc.Tokens() {
		idx := strings.Index(text[pos:], tok.Text)
		if idx < 0 {
			// Token text was normalized away from the source; the
			// span it covered is picked up by the next anchored token.
			continue
		}
		end := pos + idx + len(tok.Text)
		tokens = append(tokens, text[pos:end])
		pos = end
	}

	if pos < len(text) {
		if len(tokens) > 0 {
			tokens[len(tokens)-1] += text[pos:]
		} else {
			tokens = append(tokens, text[pos:])
		}
	}

	return tokens
}

// RuneTokenizer treats every rune as one token. It gives exact,
// character-level boundary math and is the tokenizer of choice when chunk
// sizes are configured in characters.
type RuneTokenizer struct{}

func (RuneTokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	tokens := make([]string, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		tokens = append(tokens, string(r))
	}
	return tokens
}

func scanWhitespaceWords(text string) []string {
	var tokens []string
	start := 0
	inWord := false

	for i, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if inWord && isSpace {
			// Trailing whitespace stays attached to the word.
			inWord = false
		} else if !inWord && !isSpace {
			if i > start && len(tokens) == 0 {
				// Leading whitespace before the first word.
				tokens = append(tokens, text[start:i])
				start = i
			} else if i > start {
				tokens = append(tokens, text[start:i])
				start = i
			}
			inWord = true
		}
	}

	if start < len(text) {
		tokens = append(tokens, text[start:])
	}

	return tokens
}
