package ingest

import (
	"bytes"
	"fmt"

	"litground/internal/util"

	"github.com/ledongthuc/pdf"
)

// Extractor turns file bytes into per-page plain text.
type Extractor interface {
	ExtractPages(data []byte) ([]string, error)
}

type PDFExtractor struct{}

func (PDFExtractor) ExtractPages(data []byte) (pages []string, err error) {
	defer func() {
		// the pdf reader panics on some malformed xref tables
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		pages = append(pages, util.SanitizeText(text))
	}
	return pages, nil
}
