package services

import (
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// TextExtractor turns a document byte buffer into plain text.
type TextExtractor interface {
	Extract(data []byte) (string, error)
}

// FitzExtractor extracts text with MuPDF. The implementation is chosen
// once at construction; there is no runtime fallback chain.
type FitzExtractor struct {
	Logger *zap.Logger
}

// NewFitzExtractor creates a MuPDF-backed extractor.
func NewFitzExtractor(logger *zap.Logger) *FitzExtractor {
	return &FitzExtractor{Logger: logger}
}

// Extract returns the concatenated text of all pages. The result may be
// empty when the document has no extractable text layer. MuPDF's open
// errors are cryptic, so they are normalized into ErrInvalidPDF with an
// actionable message.
func (e *FitzExtractor) Extract(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("%w: ensure the file is a valid PDF and try again (%v)", ErrInvalidPDF, err)
	}
	defer doc.Close()

	var out strings.Builder
	total := doc.NumPage()
	for i := 0; i < total; i++ {
		text, err := doc.Text(i)
		if err != nil {
			// A single bad page is not fatal; the rest of the
			// document may still carry text.
			e.Logger.Warn("Page text extraction failed", zap.Int("page", i+1), zap.Error(err))
			continue
		}
		out.WriteString(text)
		if i < total-1 {
			out.WriteString("\n")
		}
	}

	return out.String(), nil
}
