package document

import (
	"fmt"
	"os"
)

// loadText reads plain-text formats (.txt, .md, .py) as a single document.
func loadText(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return []Document{{
		Content:  string(data),
		Metadata: newMetadata(path),
	}}, nil
}
