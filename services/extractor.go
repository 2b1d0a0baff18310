package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Krunal96369/thinkdocs/internal/config"
	"github.com/Krunal96369/thinkdocs/internal/logger"
)

// ErrUnsupportedFormat is returned when neither the declared content type
// nor the filename maps to a format we can extract. It is terminal: the
// pipeline fails the document without retrying.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Format identifies a supported input document type.
type Format int

const (
	FormatUnknown Format = iota
	FormatPDF
	FormatDOCX
	FormatHTML
	FormatText
)

func (f Format) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatDOCX:
		return "docx"
	case FormatHTML:
		return "html"
	case FormatText:
		return "text"
	default:
		return "unknown"
	}
}

// ExtractionResult contains the result of document text extraction.
type ExtractionResult struct {
	Text           string
	Pages          int
	PageOffsets    []int // byte offset in Text where each page starts
	Method         string
	QualityScore   float64
	ProcessingTime time.Duration
	WordCount      int
	CharacterCount int
	Language       string
}

// Extractor dispatches raw file bytes to the right format extractor and
// normalizes the output.
type Extractor struct {
	config *config.Config
	ocr    *OCRClient
}

func NewExtractor(cfg *config.Config) *Extractor {
	ex := &Extractor{config: cfg}
	if cfg.OCRServiceEnabled {
		ex.ocr = NewOCRClient(cfg)
	}
	return ex
}

// DetectFormat resolves a format from content type first, filename
// extension second, and a content sniff last.
func DetectFormat(contentType, filename string, data []byte) Format {
	ct := contentType
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = ct[:idx]
	}
	switch strings.TrimSpace(strings.ToLower(ct)) {
	case "application/pdf":
		return FormatPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FormatDOCX
	case "text/html", "application/xhtml+xml":
		return FormatHTML
	case "text/plain", "text/markdown":
		return FormatText
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".html", ".htm":
		return FormatHTML
	case ".txt", ".md", ".markdown":
		return FormatText
	}

	// Content sniff as a last resort. DOCX is a zip container, so the
	// extension check above has to come first to tell it apart from
	// other zip files.
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return FormatPDF
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		lower := bytes.ToLower(trimmed)
		if bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html")) {
			return FormatHTML
		}
	}

	return FormatUnknown
}

// Extract pulls normalized plain text out of the document. The returned
// text is sanitized UTF-8; PageOffsets always has at least one entry when
// text is non-empty.
func (e *Extractor) Extract(ctx context.Context, data []byte, contentType, filename string) (*ExtractionResult, error) {
	start := time.Now()

	format := DetectFormat(contentType, filename, data)

	var result *ExtractionResult
	var err error
	switch format {
	case FormatPDF:
		result, err = e.extractPDF(ctx, data)
	case FormatDOCX:
		result, err = e.extractDOCX(ctx, data)
	case FormatHTML:
		result, err = e.extractHTML(ctx, data)
	case FormatText:
		result, err = e.extractPlainText(ctx, data)
	default:
		return nil, fmt.Errorf("%w: content_type=%q filename=%q", ErrUnsupportedFormat, contentType, filename)
	}
	if err != nil {
		return nil, err
	}

	e.finalize(result)
	result.ProcessingTime = time.Since(start)

	logger.Debug("Extraction finished",
		"format", format.String(),
		"method", result.Method,
		"chars", result.CharacterCount,
		"pages", result.Pages,
		"quality", result.QualityScore,
	)

	return result, nil
}

// extractPlainText handles .txt and .md input. Form feeds are treated as
// page separators.
func (e *Extractor) extractPlainText(_ context.Context, data []byte) (*ExtractionResult, error) {
	text := string(data)

	pageOffsets := []int{0}
	cleaned := strings.Builder{}
	cleaned.Grow(len(text))
	for _, r := range text {
		if r == '\f' {
			cleaned.WriteString("\n\n")
			pageOffsets = append(pageOffsets, cleaned.Len())
			continue
		}
		cleaned.WriteRune(r)
	}

	return &ExtractionResult{
		Text:        cleaned.String(),
		Pages:       len(pageOffsets),
		PageOffsets: pageOffsets,
		Method:      "plain",
	}, nil
}

// finalize sanitizes the text and fills in the derived fields.
func (e *Extractor) finalize(result *ExtractionResult) {
	result.Text, result.PageOffsets = sanitizeText(result.Text, result.PageOffsets)

	words := strings.Fields(result.Text)
	result.WordCount = len(words)
	result.CharacterCount = len(result.Text)
	result.Language = detectLanguage(result.Text)
	if result.QualityScore == 0 {
		result.QualityScore = evaluateTextQuality(result.Text)
	}
	if result.Pages < 1 {
		result.Pages = 1
	}
	if len(result.PageOffsets) == 0 {
		result.PageOffsets = []int{0}
	}
}

// sanitizeText strips NUL bytes and invalid UTF-8 and normalizes line
// endings. Dropping bytes shifts everything after them, so page offsets
// are remapped in the same pass to keep pointing at the same content.
func sanitizeText(text string, offsets []int) (string, []int) {
	remapped := make([]int, len(offsets))
	next := 0

	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); {
		for next < len(offsets) && offsets[next] <= i {
			remapped[next] = sb.Len()
			next++
		}

		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == utf8.RuneError && size == 1:
			// invalid byte, drop it
		case r == 0x00:
			// NUL, drop it
		case r == '\r':
			sb.WriteByte('\n')
			if i+1 < len(text) && text[i+1] == '\n' {
				size = 2
			}
		default:
			sb.WriteString(text[i : i+size])
		}
		i += size
	}
	for next < len(offsets) {
		remapped[next] = sb.Len()
		next++
	}

	return sb.String(), remapped
}

// detectLanguage performs simple language detection
func detectLanguage(text string) string {
	lowerText := strings.ToLower(text)

	englishWords := []string{"the", "and", "or", "of", "to", "in", "for", "with", "on", "at"}
	englishCount := 0
	for _, word := range englishWords {
		englishCount += strings.Count(lowerText, " "+word+" ")
	}

	if englishCount > 10 {
		return "en"
	}

	return "unknown"
}

// evaluateTextQuality assesses the quality of extracted text
func evaluateTextQuality(text string) float64 {
	if len(text) == 0 {
		return 0.0
	}

	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return 0.1
	}

	var alphanumeric, printable, corrupted int

	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			alphanumeric++
			printable++
		case r == ' ' || r == '\n' || r == '\t':
			printable++
		case r == '.' || r == ',' || r == ';' || r == ':' || r == '!' || r == '?' || r == '-' || r == '_':
			printable++
		case r == '�':
			corrupted++
		case r >= 32 && r <= 126:
			printable++
		default:
			if r > 127 && !isCommonUnicodeChar(r) {
				corrupted++
			} else {
				printable++
			}
		}
	}

	total := len([]rune(text))
	if total == 0 {
		return 0.0
	}

	alphanumericRatio := float64(alphanumeric) / float64(total)
	printableRatio := float64(printable) / float64(total)
	corruptedRatio := float64(corrupted) / float64(total)

	score := 0.0
	score += printableRatio * 0.4

	if alphanumericRatio >= 0.3 {
		score += 0.3
	} else {
		score += alphanumericRatio
	}

	score -= corruptedRatio * 2.0

	if len(text) > 100 {
		score += 0.1
	}

	if hasGoodPatterns(text) {
		score += 0.2
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return score
}

// isCommonUnicodeChar checks if a character is a common Unicode character
func isCommonUnicodeChar(r rune) bool {
	common := []rune{'—', '“', '”', '‘', '’', '…', '€', '£', '¥', '©', '®', '™'}
	for _, c := range common {
		if r == c {
			return true
		}
	}
	return false
}

// hasGoodPatterns checks for patterns that indicate good text extraction
func hasGoodPatterns(text string) bool {
	patterns := []string{
		`\b[A-Z][a-z]+\b`,       // Capitalized words
		`\b\d{1,3}[,.]?\d{3}\b`, // Numbers with separators
		`[.!?]\s+[A-Z]`,         // Sentence boundaries
		`\b(the|and|or|of|to|in|for|with|on|at|by|from)\b`, // Common words
	}

	goodPatterns := 0
	for _, pattern := range patterns {
		if matched, _ := regexp.MatchString(pattern, text); matched {
			goodPatterns++
		}
	}

	return goodPatterns >= 3
}
