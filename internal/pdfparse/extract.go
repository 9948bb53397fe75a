package pdfparse

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText pulls the plain text out of a PDF file and normalizes it for
// LLM consumption.
func ExtractText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	return Clean(buf.String()), nil
}

var (
	multiBlankRe  = regexp.MustCompile(`\n\s*\n\s*\n+`)
	multiSpaceRe  = regexp.MustCompile(`[ \t]+`)
	spacedLineRe  = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	pageNumberRe  = regexp.MustCompile(`^(Page \d+|\d+)$`)
	bulletGlyphs  = []string{"•", "◦", "▪", "○"}
)

// Clean normalizes extracted text: collapses whitespace, converts bullet
// glyphs to dashes, and drops page numbers and one-character artifacts.
func Clean(text string) string {
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = spacedLineRe.ReplaceAllString(text, "\n")

	for _, glyph := range bulletGlyphs {
		text = strings.ReplaceAll(text, glyph, "- ")
	}

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if pageNumberRe.MatchString(line) {
			continue
		}
		if len(line) < 2 {
			continue
		}
		cleaned = append(cleaned, line)
	}

	return strings.Join(cleaned, "\n")
}
