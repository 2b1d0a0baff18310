package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/Krunal96369/thinkdocs/internal/logger"
)

// extractPDF pulls text out of each page with the native PDF parser and
// records where every page starts. Scanned PDFs with no text layer fall
// back to the OCR sidecar when it is enabled.
func (e *Extractor) extractPDF(ctx context.Context, content []byte) (*ExtractionResult, error) {
	result, err := e.extractPDFNative(content)
	if err == nil && result.QualityScore >= 0.3 {
		return result, nil
	}

	if e.ocr != nil {
		if err != nil {
			logger.Warn("Native PDF extraction failed, trying OCR", "error", err)
		} else {
			logger.Warn("Native PDF extraction low quality, trying OCR", "quality", result.QualityScore)
		}
		ocrResult, ocrErr := e.extractPDFWithOCR(ctx, content)
		if ocrErr == nil {
			return ocrResult, nil
		}
		logger.Warn("OCR extraction failed", "error", ocrErr)
	}

	// Low quality text still beats nothing; callers see the score.
	if err == nil {
		return result, nil
	}
	return nil, fmt.Errorf("pdf extraction failed: %w", err)
}

func (e *Extractor) extractPDFNative(content []byte) (*ExtractionResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	var textBuilder strings.Builder
	var pageOffsets []int
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		pageOffsets = append(pageOffsets, textBuilder.Len())

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract text from page", "page", i, "error", err)
			continue
		}

		textBuilder.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			textBuilder.WriteString("\n")
		}
		textBuilder.WriteString("\n")
	}

	extracted := textBuilder.String()
	quality := evaluateTextQuality(extracted)

	return &ExtractionResult{
		Text:         extracted,
		Pages:        pages,
		PageOffsets:  pageOffsets,
		Method:       "go-pdf",
		QualityScore: quality,
	}, nil
}

func (e *Extractor) extractPDFWithOCR(ctx context.Context, content []byte) (*ExtractionResult, error) {
	ocrResult, err := e.ocr.ExtractText(ctx, content, "document.pdf")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(ocrResult.Text) == "" {
		return nil, fmt.Errorf("ocr returned empty text")
	}

	pages := ocrResult.Pages
	if pages < 1 {
		pages = 1
	}

	return &ExtractionResult{
		Text:         ocrResult.Text,
		Pages:        pages,
		PageOffsets:  []int{0},
		Method:       "ocr",
		QualityScore: evaluateTextQuality(ocrResult.Text),
	}, nil
}
