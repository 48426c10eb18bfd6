package app

import (
	"io"

	"github.com/ledongthuc/pdf"
)

// countPDFPages reads a PDF's page count for the cost estimator's per-page
// PDF engine multiplier (spec.md §4.4), grounded on the same
// github.com/ledongthuc/pdf reader the teacher's ingest/pdf extractor uses.
func countPDFPages(r io.ReaderAt, size int64) (int, error) {
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return 0, err
	}
	return doc.NumPage(), nil
}
