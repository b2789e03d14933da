// Package dedup collapses duplicate bibliographic records. Matching is
// exact: records either share a DOI-derived identity or, for DOI-less
// records, agree on normalized title and share at least one author name.
// There is no fuzzy or similarity-threshold matching; near-duplicates
// that differ in normalized title survive as separate records.
package dedup

import (
	"strings"
	"unicode"
)

// NormalizeName normalizes an author name for comparison:
//   - Converts to lowercase
//   - Detects and reorders "Last, First" format to "First Last"
//   - Removes all non-letter, non-space characters (apostrophes, periods, hyphens, etc.)
//   - Collapses multiple spaces to a single space
//   - Trims leading and trailing whitespace
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToLower(name)

	// Handle "Last, First" format: split on comma, swap parts.
	if idx := strings.Index(name, ","); idx >= 0 {
		last := strings.TrimSpace(name[:idx])
		first := strings.TrimSpace(name[idx+1:])
		if first != "" {
			name = first + " " + last
		} else {
			name = last
		}
	}

	var sb strings.Builder
	sb.Grow(len(name))
	prevSpace := false

	for _, r := range name {
		if unicode.IsLetter(r) {
			sb.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteRune(' ')
				prevSpace = true
			}
		}
		// All other characters (apostrophes, periods, hyphens) are dropped.
	}

	return strings.TrimRight(sb.String(), " ")
}

// nameSet builds the set of normalized author names for a record.
// Empty names are excluded.
func nameSet(authors []string) map[string]struct{} {
	set := make(map[string]struct{}, len(authors))
	for _, a := range authors {
		if n := NormalizeName(a); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// setsIntersect reports whether two name sets share at least one name.
func setsIntersect(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for n := range a {
		if _, ok := b[n]; ok {
			return true
		}
	}
	return false
}

// foldTitle lower-cases a title and collapses runs of non-letter,
// non-digit characters to single spaces, so title matching is stable
// under punctuation, case and whitespace differences.
func foldTitle(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	prevSpace := true

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			sb.WriteRune(' ')
			prevSpace = true
		}
	}

	return strings.TrimRight(sb.String(), " ")
}
