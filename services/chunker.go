package services

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// ChunkDraft is one span of the source text before it is persisted.
// Text is always exactly source[StartOffset:EndOffset]; consecutive
// chunks overlap, the next chunk starts `overlap` bytes before the
// previous one ended.
type ChunkDraft struct {
	Text        string
	Index       int
	StartOffset int
	EndOffset   int
	Page        int
	WordCount   int
	Repetitive  bool
}

// Chunker splits extracted text into overlapping spans. Splitting is a
// pure function of (text, settings): the same input always yields the
// same chunks, which keeps re-ingestion idempotent.
type Chunker struct {
	maxChunkSize int
	overlap      int
	minChunkSize int
}

var chunkSentenceRegex = regexp.MustCompile(`[.!?]+[\s]`)
var chunkParagraphRegex = regexp.MustCompile(`\n\n+`)

func NewChunker(maxChunkSize, overlap, minChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = 1000
	}
	// A chunk has to fit at least one full UTF-8 rune after the
	// boundary backtrack, or splitting could stall on multi-byte text.
	if maxChunkSize < 8 {
		maxChunkSize = 8
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxChunkSize {
		overlap = maxChunkSize / 4
	}
	if minChunkSize < 0 || minChunkSize >= maxChunkSize {
		minChunkSize = 0
	}
	return &Chunker{
		maxChunkSize: maxChunkSize,
		overlap:      overlap,
		minChunkSize: minChunkSize,
	}
}

// Split produces the chunk spans for text. pageOffsets gives the byte
// offset where each page starts and is used to tag chunks with the page
// their span begins on; nil means a single page.
//
// Whitespace-only text yields no chunks. Text no longer than the chunk
// size yields exactly one chunk covering all of it.
func (c *Chunker) Split(text string, pageOffsets []int) []ChunkDraft {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var spans [][2]int
	n := len(text)
	start := 0
	for {
		if n-start <= c.maxChunkSize {
			spans = append(spans, [2]int{start, n})
			break
		}

		end := c.cutPoint(text, start, start+c.maxChunkSize)
		spans = append(spans, [2]int{start, end})

		next := end - c.overlap
		for next > 0 && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			// Degenerate overlap settings; never stall.
			next = end
		}
		start = next
	}

	chunks := make([]ChunkDraft, 0, len(spans))
	for i, span := range spans {
		chunkText := text[span[0]:span[1]]
		words := strings.Fields(chunkText)
		chunks = append(chunks, ChunkDraft{
			Text:        chunkText,
			Index:       i,
			StartOffset: span[0],
			EndOffset:   span[1],
			Page:        pageForOffset(pageOffsets, span[0]),
			WordCount:   len(words),
			Repetitive:  isRepetitive(words),
		})
	}
	return chunks
}

// isRepetitive reports whether a chunk is dominated by repeated words:
// fewer than 80% of its words are distinct. Such chunks (page footers
// repeated across a scan, filler) add noise to retrieval, so they are
// kept in storage but skipped for embedding. Short chunks are exempt.
func isRepetitive(words []string) bool {
	if len(words) < 10 {
		return false
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	return float64(len(unique))/float64(len(words)) < 0.8
}

// cutPoint picks where the chunk starting at start should end, given the
// hard limit. Paragraph breaks win over sentence ends, sentence ends over
// word boundaries; a mid-word hard cut is the last resort. The boundary
// search never picks a point that would produce a chunk shorter than
// minChunkSize.
func (c *Chunker) cutPoint(text string, start, limit int) int {
	for limit > start && !utf8.RuneStart(text[limit]) {
		limit--
	}

	searchFrom := start + c.minChunkSize
	if searchFrom >= limit {
		searchFrom = start
	}
	window := text[searchFrom:limit]

	if locs := chunkParagraphRegex.FindAllStringIndex(window, -1); len(locs) > 0 {
		return searchFrom + locs[len(locs)-1][1]
	}

	if locs := chunkSentenceRegex.FindAllStringIndex(window, -1); len(locs) > 0 {
		return searchFrom + locs[len(locs)-1][1]
	}

	if idx := strings.LastIndexAny(window, " \n\t"); idx > 0 {
		return searchFrom + idx + 1
	}

	return limit
}

// pageForOffset returns the 1-based page whose span contains the offset.
func pageForOffset(pageOffsets []int, offset int) int {
	if len(pageOffsets) == 0 {
		return 1
	}
	// First page whose start is past the offset; the one before it wins.
	idx := sort.SearchInts(pageOffsets, offset+1)
	if idx == 0 {
		return 1
	}
	return idx
}
