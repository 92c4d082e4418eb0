// Package chunker partitions extracted document text into overlapping
// token-bounded segments ready for embedding. Splitting is deterministic:
// identical input and configuration always yield the identical ordered
// sequence of chunk texts.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type Config struct {
	// ChunkSize is the maximum number of tokens per chunk.
	ChunkSize int
	// Overlap is the number of tokens shared between consecutive chunks.
	Overlap int
	// MinChunkChars guards against emitting sliver chunks mid-document;
	// only the final remainder of a unit may be shorter.
	MinChunkChars int
	// MinChunkLengthToEmbed drops chunks (in tokens) too short to be worth
	// embedding. Dropped text is lost from the index, never from the
	// stored document.
	MinChunkLengthToEmbed int
	// MaxChunks caps the chunk count per document. Once reached, all
	// remaining text is merged into the final chunk rather than silently
	// discarded.
	MaxChunks int
}

type Chunker struct {
	cfg Config
	tok Tokenizer
}

func New(cfg Config, tok Tokenizer) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunkSize), got %d", cfg.Overlap)
	}
	if cfg.MaxChunks <= 0 {
		return nil, fmt.Errorf("max chunks must be positive, got %d", cfg.MaxChunks)
	}
	if tok == nil {
		tok = WordTokenizer{}
	}

	return &Chunker{cfg: cfg, tok: tok}, nil
}

// Split partitions the document's text units (e.g. one per page) into an
// ordered sequence of chunk texts. Consecutive chunks within a unit share
// cfg.Overlap tokens; units never overlap each other.
func (c *Chunker) Split(units []string) []string {
	step := c.cfg.ChunkSize - c.cfg.Overlap

	var chunks []string
	for u, unit := range units {
		tokens := c.tok.Tokenize(unit)
		if len(tokens) == 0 {
			continue
		}

		start := 0
		for start < len(tokens) {
			end := start + c.cfg.ChunkSize
			if end > len(tokens) {
				end = len(tokens)
			}
			final := end == len(tokens)

			if len(chunks) == c.cfg.MaxChunks-1 && !(final && u == len(units)-1) {
				chunks = append(chunks, c.mergeRemainder(tokens[start:], units[u+1:]))
				return c.filterShort(chunks)
			}

			text := strings.Join(tokens[start:end], "")
			if final || utf8.RuneCountInString(text) >= c.cfg.MinChunkChars {
				chunks = append(chunks, text)
			}

			if final {
				break
			}
			start += step
		}
	}

	return c.filterShort(chunks)
}

// mergeRemainder builds the capped final chunk: everything left of the
// current unit plus all following units, in order.
func (c *Chunker) mergeRemainder(tokens []string, rest []string) string {
	var b strings.Builder
	b.WriteString(strings.Join(tokens, ""))
	for _, unit := range rest {
		b.WriteString(unit)
	}
	return b.String()
}

// filterShort removes chunks below the embed-worthiness floor. The floor is
// measured in tokens of the configured tokenizer.
func (c *Chunker) filterShort(chunks []string) []string {
	if c.cfg.MinChunkLengthToEmbed <= 0 {
		return chunks
	}

	kept := chunks[:0]
	for _, chunk := range chunks {
		if len(c.tok.Tokenize(chunk)) >= c.cfg.MinChunkLengthToEmbed {
			kept = append(kept, chunk)
		}
	}
	return kept
}
