// Package document loads files into normalized text documents.
//
// Dispatch is by file extension. Each loader is independent and idempotent:
// loading the same path twice yields equivalent documents. Exact
// byte-for-byte equality across parser library versions is not guaranteed.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat indicates the file extension has no registered loader.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Document is a normalized unit of loaded text. Immutable once produced.
type Document struct {
	Content  string
	Metadata Metadata
}

// Metadata carries provenance for a document and every passage derived
// from it.
type Metadata struct {
	// Source is the path the document was loaded from.
	Source string

	// Page is the 1-based page number for paginated formats (PDF).
	// Nil for formats without pages.
	Page *int

	// FilePath mirrors Source; kept separate because citations expose it
	// as a distinct field.
	FilePath string
}

// loader parses one file format into documents.
type loader func(path string) ([]Document, error)

// loaders maps lowercase extensions to format parsers. A closed set:
// unknown extensions fail with ErrUnsupportedFormat rather than falling
// back to a guessed parser. The .doc and .xls entries cover only the
// modern zip-based variants; pre-2007 binary files are rejected with
// ErrUnsupportedFormat.
var loaders = map[string]loader{
	".txt":  loadText,
	".md":   loadText,
	".py":   loadText,
	".html": loadHTML,
	".pdf":  loadPDF,
	".xlsx": loadExcel,
	".xls":  loadExcel,
	".docx": loadDocx,
	".doc":  loadDocx,
	".pptx": loadPptx,
}

// Load parses the file at path into one or more documents.
// Returns ErrUnsupportedFormat for unrecognized extensions.
func Load(path string) ([]Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	load, ok := loaders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	docs, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return docs, nil
}

// Supported reports whether the extension of path has a registered loader.
func Supported(path string) bool {
	_, ok := loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// newMetadata builds the common metadata for a loaded file.
func newMetadata(path string) Metadata {
	return Metadata{Source: path, FilePath: path}
}

// oleSignature is the magic number of OLE compound files, the container of
// the pre-2007 binary Office formats (.doc, .xls, .ppt).
var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// checkLegacyOffice rejects legacy binary Office files with a clear error
// instead of letting the OOXML parsers fail on a non-zip payload.
func checkLegacyOffice(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, len(oleSignature))
	if _, err := io.ReadFull(f, header); err != nil {
		// Too short to carry the signature; let the format parser report.
		return nil
	}
	if bytes.Equal(header, oleSignature) {
		return fmt.Errorf("%w: legacy binary Office file, convert to the zip-based format (.docx/.xlsx)", ErrUnsupportedFormat)
	}
	return nil
}
