// Package topic manages per-topic collections of embedded passages.
//
// A topic is a normalized identifier (lowercase, alphanumeric and
// underscore) owning exactly one append-only collection in PostgreSQL +
// pgvector. Collections survive process restarts; topics are created on
// first use and never deleted in-process.
package topic

import "strings"

// ID is a normalized topic identifier.
type ID string

// Normalize converts an arbitrary channel or room name into a topic ID:
// lowercase, spaces to underscores, any remaining non-alphanumeric rune to
// an underscore.
func Normalize(name string) ID {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "_")

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return ID(b.String())
}

func (id ID) String() string { return string(id) }
