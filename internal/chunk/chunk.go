// Package chunk splits normalized documents into bounded-size passages for
// indexing. Splitting is deterministic: the same document and configuration
// always yield the same passages, in document order, with zero overlap, and
// concatenating the passages reproduces the document text exactly.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/luna-chat/luna/internal/document"
)

// DefaultMaxSize is the default passage size cap in bytes.
const DefaultMaxSize = 3000

// separators are tried in order: paragraph, line, sentence, word.
// Segments still over the cap after the last separator are hard-cut at
// rune boundaries.
var separators = []string{"\n\n", "\n", ". ", " "}

// Passage is a bounded-size slice of a document's text with inherited
// metadata. Immutable once produced.
type Passage struct {
	Text     string
	Metadata document.Metadata
}

// Splitter chunks documents into passages of at most MaxSize bytes.
type Splitter struct {
	maxSize int
}

// NewSplitter creates a Splitter. Non-positive maxSize falls back to
// DefaultMaxSize.
func NewSplitter(maxSize int) *Splitter {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Splitter{maxSize: maxSize}
}

// MaxSize returns the configured passage size cap.
func (s *Splitter) MaxSize() int { return s.maxSize }

// Split chunks every document into passages. Documents whose content is
// empty or whitespace-only produce no passages; metadata is copied onto
// each derived passage.
func (s *Splitter) Split(docs []document.Document) []Passage {
	var passages []Passage
	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		for _, text := range s.splitText(doc.Content, separators) {
			passages = append(passages, Passage{
				Text:     text,
				Metadata: doc.Metadata,
			})
		}
	}
	return passages
}

// splitText recursively splits text so every returned piece is at most
// maxSize bytes. Separators stay attached to the preceding segment so the
// concatenation of the result equals the input.
func (s *Splitter) splitText(text string, seps []string) []string {
	if len(text) <= s.maxSize {
		return []string{text}
	}

	if len(seps) == 0 {
		return hardCut(text, s.maxSize)
	}

	segments := strings.SplitAfter(text, seps[0])
	if len(segments) == 1 {
		// Separator absent; try the next one.
		return s.splitText(text, seps[1:])
	}

	var out []string
	var pending strings.Builder
	flush := func() {
		if pending.Len() > 0 {
			out = append(out, pending.String())
			pending.Reset()
		}
	}

	for _, seg := range segments {
		if len(seg) > s.maxSize {
			// Oversized segment: emit what we have, then split the
			// segment with finer separators.
			flush()
			out = append(out, s.splitText(seg, seps[1:])...)
			continue
		}
		if pending.Len()+len(seg) > s.maxSize {
			flush()
		}
		pending.WriteString(seg)
	}
	flush()

	return out
}

// hardCut slices text into maxSize-byte pieces, backing off to rune
// boundaries so multi-byte characters are never split.
func hardCut(text string, maxSize int) []string {
	var out []string
	for len(text) > maxSize {
		cut := maxSize
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxSize
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		out = append(out, text)
	}
	return out
}
