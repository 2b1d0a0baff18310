package services

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blankLineRegex = regexp.MustCompile(`\n{3,}`)
var spaceRunRegex = regexp.MustCompile(`[ \t]+`)

// extractHTML strips markup with goquery and keeps block boundaries as
// newlines so the chunker still sees paragraph structure.
func (e *Extractor) extractHTML(_ context.Context, content []byte) (*ExtractionResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var sb strings.Builder
	blocks := root.Find("p, h1, h2, h3, h4, h5, h6, li, td, th, pre, blockquote")
	if blocks.Length() == 0 {
		sb.WriteString(root.Text())
	} else {
		blocks.Each(func(_ int, s *goquery.Selection) {
			// Skip elements that only wrap other block elements, their
			// text shows up through the children.
			if s.ChildrenFiltered("p, li, blockquote").Length() > 0 {
				return
			}
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return
			}
			sb.WriteString(text)
			sb.WriteString("\n\n")
		})
	}

	text := sb.String()
	text = spaceRunRegex.ReplaceAllString(text, " ")
	text = blankLineRegex.ReplaceAllString(text, "\n\n")

	return &ExtractionResult{
		Text:        text,
		Pages:       1,
		PageOffsets: []int{0},
		Method:      "html",
	}, nil
}
