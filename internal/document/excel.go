package document

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// loadExcel flattens every sheet into tab-separated rows, one document per
// workbook.
func loadExcel(path string) ([]Document, error) {
	if err := checkLegacyOffice(path); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}

		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return []Document{{
		Content:  b.String(),
		Metadata: newMetadata(path),
	}}, nil
}
