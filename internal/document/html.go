package document

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// loadHTML extracts readable text from an HTML file.
//
// Readability extraction is tried first; pages it cannot parse (fragments,
// tables-only documents) fall back to a plain goquery text walk.
func loadHTML(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	text, err := extractReadable(data)
	if err != nil || strings.TrimSpace(text) == "" {
		text, err = extractBodyText(data)
		if err != nil {
			return nil, err
		}
	}

	return []Document{{
		Content:  text,
		Metadata: newMetadata(path),
	}}, nil
}

func extractReadable(data []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(data), &url.URL{})
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}
	return article.TextContent, nil
}

func extractBodyText(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("html parse: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		b.WriteString(sel.Text())
	})
	if b.Len() == 0 {
		// Fragment without a body element.
		b.WriteString(doc.Text())
	}
	return b.String(), nil
}
