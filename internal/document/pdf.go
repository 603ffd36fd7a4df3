package document

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// loadPDF extracts one document per page, with 1-based page numbers in
// metadata.
func loadPDF(path string) ([]Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	numPages := reader.NumPage()
	docs := make([]Document, 0, numPages)

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d: %w", i, err)
		}

		md := newMetadata(path)
		pageNum := i
		md.Page = &pageNum

		docs = append(docs, Document{Content: text, Metadata: md})
	}

	return docs, nil
}
