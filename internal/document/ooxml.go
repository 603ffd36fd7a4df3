package document

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// OOXML text extraction for .docx and .pptx.
//
// Both formats are ZIP archives of XML parts. Visible text lives in
// WordprocessingML <w:t> elements (word/document.xml) and DrawingML <a:t>
// elements (ppt/slides/slideN.xml). No library in the ecosystem extracts
// pptx text and the docx packages are template writers, so the extraction
// is done directly on the parts.

// loadDocx extracts paragraph text from a .docx (or modern .doc) file.
func loadDocx(path string) ([]Document, error) {
	if err := checkLegacyOffice(path); err != nil {
		return nil, err
	}

	text, err := extractOOXML(path, func(name string) bool {
		return name == "word/document.xml"
	}, "t", "p")
	if err != nil {
		return nil, err
	}

	return []Document{{
		Content:  text,
		Metadata: newMetadata(path),
	}}, nil
}

// loadPptx extracts slide text from a .pptx file, slides in order.
func loadPptx(path string) ([]Document, error) {
	text, err := extractOOXML(path, isSlidePart, "t", "p")
	if err != nil {
		return nil, err
	}

	return []Document{{
		Content:  text,
		Metadata: newMetadata(path),
	}}, nil
}

func isSlidePart(name string) bool {
	dir, base := path.Split(name)
	return dir == "ppt/slides/" && strings.HasPrefix(base, "slide") && strings.HasSuffix(base, ".xml")
}

// extractOOXML concatenates the character data of textElem elements from
// every archive part selected by match, inserting a newline at the end of
// each breakElem element. Parts are processed in name order so slide
// ordering is stable.
func extractOOXML(archivePath string, match func(string) bool, textElem, breakElem string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = r.Close() }()

	var parts []*zip.File
	for _, f := range r.File {
		if match(f.Name) {
			parts = append(parts, f)
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Name < parts[j].Name })

	var b strings.Builder
	for _, part := range parts {
		if err := extractPartText(part, &b, textElem, breakElem); err != nil {
			return "", fmt.Errorf("part %q: %w", part.Name, err)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func extractPartText(part *zip.File, b *strings.Builder, textElem, breakElem string) error {
	rc, err := part.Open()
	if err != nil {
		return fmt.Errorf("opening part: %w", err)
	}
	defer func() { _ = rc.Close() }()

	dec := xml.NewDecoder(rc)
	inText := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decoding xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textElem {
				inText++
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textElem:
				if inText > 0 {
					inText--
				}
			case breakElem:
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText > 0 {
				b.Write(t)
			}
		}
	}
}
