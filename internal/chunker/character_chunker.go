package chunker

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"ragsync/internal/domain"
)

// Default sizes, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// CharacterChunker recursively splits text on paragraph, line, word and
// finally character boundaries until every piece fits chunkSize, with
// chunkOverlap characters shared between neighbouring chunks.
type CharacterChunker struct {
	chunkSize    int
	chunkOverlap int
	splitter     textsplitter.RecursiveCharacter
}

func NewCharacterChunker(chunkSize, chunkOverlap int) *CharacterChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &CharacterChunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}
}

// Chunk splits text and tags each chunk with its character offset in text.
func (c *CharacterChunker) Chunk(source, text string) ([]domain.Chunk, error) {
	pieces, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	// runeAt[i] is the byte position of the i-th character.
	runeAt := make([]int, 0, len(text))
	for i := range text {
		runeAt = append(runeAt, i)
	}
	toRune := func(b int) int { return sort.SearchInts(runeAt, b) }

	chunks := make([]domain.Chunk, 0, len(pieces))
	index, prevLen := 0, 0
	for i, p := range pieces {
		offset := 0
		if i > 0 {
			offset = max(index+prevLen-c.chunkOverlap, 0)
		}
		start := -1
		if offset < len(runeAt) {
			from := runeAt[offset]
			if j := strings.Index(text[from:], p); j >= 0 {
				start = toRune(from + j)
			}
		}
		if start < 0 {
			if j := strings.Index(text, p); j >= 0 {
				start = toRune(j)
			}
		}
		if start >= 0 {
			index = start
		}
		prevLen = utf8.RuneCountInString(p)
		chunks = append(chunks, domain.Chunk{
			Source:     source,
			Text:       p,
			Index:      i,
			StartIndex: start,
		})
	}
	return chunks, nil
}
