package resultstore

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key builds the Redis key for a task id. The id is normalized into a safe
// ASCII segment for readability and hashed in full so ids that only differ
// in stripped characters still get distinct keys.
func Key(prefix, id string) string {
	idNorm := collapseASCIIWhitespace(id)
	safe := sanitizeToken(idNorm)

	const maxIDLen = 96
	if len(safe) > maxIDLen {
		safe = safe[:maxIDLen]
	}

	return fmt.Sprintf("%s:%s:h=%016x", sanitizeToken(prefix), safe, xxhash.Sum64String(idNorm))
}

// sanitizeToken maps s onto [A-Za-z0-9:_-]: ASCII whitespace becomes '_',
// any other rune outside the set becomes '-', and runs of either separator
// collapse to one.
func sanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var last rune
	for _, r := range s {
		mapped := mapKeyRune(r)
		if (mapped == '_' || mapped == '-') && mapped == last {
			continue
		}
		b.WriteRune(mapped)
		last = mapped
	}
	return b.String()
}

func mapKeyRune(r rune) rune {
	switch {
	case isASCIISpace(r):
		return '_'
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return r
	case r == ':' || r == '_' || r == '-':
		return r
	default:
		return '-'
	}
}

// collapseASCIIWhitespace reduces every run of ASCII whitespace to a single
// space and trims the ends.
func collapseASCIIWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, isASCIISpace), " ")
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
