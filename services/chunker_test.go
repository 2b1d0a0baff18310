package services

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	chunker := NewChunker(1000, 200, 100)
	text := "A short document that fits in a single chunk."

	chunks := chunker.Split(text, nil)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Fatalf("chunk text does not cover the whole input")
	}
	if chunks[0].StartOffset != 0 || chunks[0].EndOffset != len(text) {
		t.Fatalf("unexpected span [%d,%d) for input of length %d", chunks[0].StartOffset, chunks[0].EndOffset, len(text))
	}
	if chunks[0].Page != 1 {
		t.Fatalf("expected page 1, got %d", chunks[0].Page)
	}
}

func TestSplitWhitespaceOnly(t *testing.T) {
	chunker := NewChunker(1000, 200, 100)
	if chunks := chunker.Split("   \n\t  \n", nil); chunks != nil {
		t.Fatalf("expected no chunks for whitespace input, got %d", len(chunks))
	}
}

func TestSplitOverlapAndCoverage(t *testing.T) {
	chunker := NewChunker(4000, 200, 100)

	sentence := "The quick brown fox jumps over the lazy dog near the river bank. "
	var sb strings.Builder
	for sb.Len() < 9000 {
		sb.WriteString(sentence)
	}
	text := sb.String()[:9000]

	chunks := chunker.Split(text, nil)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 9000 chars at max 4000 / overlap 200, got %d", len(chunks))
	}

	if chunks[0].StartOffset != 0 {
		t.Fatalf("first chunk must start at 0, got %d", chunks[0].StartOffset)
	}
	if chunks[len(chunks)-1].EndOffset != len(text) {
		t.Fatalf("last chunk must end at %d, got %d", len(text), chunks[len(chunks)-1].EndOffset)
	}

	for i, chunk := range chunks {
		if len(chunk.Text) > 4000 {
			t.Fatalf("chunk %d exceeds max size: %d", i, len(chunk.Text))
		}
		if chunk.Text != text[chunk.StartOffset:chunk.EndOffset] {
			t.Fatalf("chunk %d text does not match its span", i)
		}
		if chunk.Index != i {
			t.Fatalf("chunk %d has index %d", i, chunk.Index)
		}
	}

	// Each chunk after the first starts with exactly the final 200 bytes
	// of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		cur := chunks[i]
		if cur.StartOffset != prev.EndOffset-200 {
			t.Fatalf("chunk %d starts at %d, want %d", i, cur.StartOffset, prev.EndOffset-200)
		}
		tail := prev.Text[len(prev.Text)-200:]
		if !strings.HasPrefix(cur.Text, tail) {
			t.Fatalf("chunk %d does not begin with the overlap tail of chunk %d", i, i-1)
		}
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	chunker := NewChunker(120, 20, 10)

	para := strings.Repeat("word ", 18) // 90 chars
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	chunks := chunker.Split(text, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// The first cut should land right after a paragraph break, not in
	// the middle of a word.
	first := chunks[0].Text
	if !strings.HasSuffix(first, "\n\n") {
		t.Fatalf("first chunk should end at a paragraph break, got %q", first[len(first)-10:])
	}
}

func TestSplitDeterministic(t *testing.T) {
	chunker := NewChunker(300, 60, 40)
	text := strings.Repeat("Sentences repeat here. More text follows now. ", 60)

	a := chunker.Split(text, nil)
	b := chunker.Split(text, nil)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("identical input produced different chunkings")
	}
}

func TestSplitPageAttribution(t *testing.T) {
	chunker := NewChunker(120, 20, 10)

	page := strings.Repeat("content on this page goes here. ", 4) // 128 chars
	text := page + page + page
	pageOffsets := []int{0, len(page), 2 * len(page)}

	chunks := chunker.Split(text, pageOffsets)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		want := 1
		for pi, off := range pageOffsets {
			if chunk.StartOffset >= off {
				want = pi + 1
			}
		}
		if chunk.Page != want {
			t.Fatalf("chunk %d starting at %d tagged page %d, want %d", i, chunk.StartOffset, chunk.Page, want)
		}
	}
}

func TestSplitNeverSplitsRunes(t *testing.T) {
	chunker := NewChunker(50, 10, 5)
	text := strings.Repeat("héllo wörld ünïcode ", 30)

	chunks := chunker.Split(text, nil)
	for i, chunk := range chunks {
		if !strings.ContainsRune(chunk.Text, 'é') && !strings.ContainsRune(chunk.Text, 'ö') {
			continue
		}
		for _, r := range chunk.Text {
			if r == '�' {
				t.Fatalf("chunk %d contains a replacement rune, a UTF-8 sequence was split", i)
			}
		}
	}
}

func TestSplitTinyChunkSizeTerminates(t *testing.T) {
	chunker := NewChunker(1, 0, 0)
	text := strings.Repeat("日本語のテキスト", 10)

	chunks := chunker.Split(text, nil)
	if len(chunks) == 0 {
		t.Fatal("expected chunks for non-empty text")
	}
	for i, chunk := range chunks {
		if chunk.EndOffset <= chunk.StartOffset {
			t.Fatalf("chunk %d has an empty span [%d,%d)", i, chunk.StartOffset, chunk.EndOffset)
		}
		if !utf8.ValidString(chunk.Text) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
	}
	if chunks[0].StartOffset != 0 {
		t.Fatalf("first chunk starts at %d, want 0", chunks[0].StartOffset)
	}
	if last := chunks[len(chunks)-1]; last.EndOffset != len(text) {
		t.Fatalf("last chunk ends at %d, want %d", last.EndOffset, len(text))
	}
}

func TestSplitRepetitionFlag(t *testing.T) {
	chunker := NewChunker(4000, 200, 100)

	spam := strings.TrimSpace(strings.Repeat("buy now ", 15))
	if chunks := chunker.Split(spam, nil); !chunks[0].Repetitive {
		t.Error("chunk made of two repeated words should be flagged repetitive")
	}

	varied := "The quick brown fox jumps over the lazy dog while seven wizards brew quirky potions."
	if chunks := chunker.Split(varied, nil); chunks[0].Repetitive {
		t.Error("varied prose must not be flagged repetitive")
	}

	short := "go go go go go"
	if chunks := chunker.Split(short, nil); chunks[0].Repetitive {
		t.Error("texts under ten words are exempt from the repetition check")
	}
}
