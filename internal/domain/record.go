// Package domain defines the core types flowing through the ingestion
// pipeline: raw pages and records as fetched from CrossRef, normalized
// records in canonical form, and the deduplicated records applied to the
// works table.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// SentinelYear is substituted for absent or unparsable publication dates so
// that PublishedYear is always a valid integer for downstream temporal
// grouping.
const SentinelYear = 1970

// RawPage is one CrossRef API response page, exactly as received.
// Pages are immutable once stored and are retained for replay and audit.
type RawPage struct {
	// RunID identifies the pipeline run that fetched this page.
	RunID uuid.UUID

	// PageIndex is the ordinal position of the page in the fetch sequence.
	PageIndex int

	// FetchedAt is when the page was fetched.
	FetchedAt time.Time

	// Payload is the unmodified response body.
	Payload []byte

	// RecordCount is the number of bibliographic items in the page.
	RecordCount int
}

// Key returns the raw-store key for this page: "{run_id}/{page_index}".
// The page index is zero-padded so lexical listing order matches fetch order.
func (p RawPage) Key() string {
	return PageKey(p.RunID, p.PageIndex)
}

// PageKey builds the raw-store key for a page of a run.
func PageKey(runID uuid.UUID, pageIndex int) string {
	return fmt.Sprintf("%s/%06d", runID, pageIndex)
}

// RawRecord is one bibliographic item as received, prior to any cleaning.
// Every field may be absent, empty, or malformed; counts may be negative.
type RawRecord struct {
	// DOI is the DOI candidate as received. May be empty, carry a
	// https://doi.org/ prefix, or be otherwise malformed.
	DOI string

	// Title is the work title as received. May be empty.
	Title string

	// Authors is the ordered list of free-text author names. May be empty.
	Authors []string

	// DateParts is the publication date as [year, month, day]. Any suffix
	// may be missing; the slice may be empty.
	DateParts []int

	// Journal is the container title as received.
	Journal string

	// Publisher is the publisher name as received.
	Publisher string

	// CitationCount is the incoming citation count as received. May be negative.
	CitationCount int

	// ReferenceCount is the outgoing reference count as received. May be negative.
	ReferenceCount int
}

// QualityFlags records which fields were missing from the source record.
// Missing fields are never an error; they are flagged and defaulted.
type QualityFlags struct {
	MissingTitle   bool `json:"missing_title"`
	MissingDOI     bool `json:"missing_doi"`
	MissingJournal bool `json:"missing_journal"`
	MissingAuthors bool `json:"missing_authors"`
}

// Count returns the number of flags set. Used by deduplication to prefer
// the most complete member of a duplicate group.
func (f QualityFlags) Count() int {
	n := 0
	for _, set := range []bool{f.MissingTitle, f.MissingDOI, f.MissingJournal, f.MissingAuthors} {
		if set {
			n++
		}
	}
	return n
}

// NormalizedRecord is the canonical form of a bibliographic record.
//
// Invariants: CitationCount and ReferenceCount are never negative, and
// PublishedYear is always a valid integer (SentinelYear when the source
// date was absent or unparsable).
type NormalizedRecord struct {
	// RecordID is the stable identifier derived from the DOI, or from the
	// title/first-author fallback signature when no DOI is present.
	RecordID string

	// Title is the trimmed title. Empty when the source had none.
	Title string

	// Authors is the ordered list of trimmed author names.
	Authors []string

	// PublishedYear is the publication year, SentinelYear when unknown.
	PublishedYear int

	// DOI is the lower-cased, trimmed DOI with URL prefixes stripped.
	// Empty when the source had none.
	DOI string

	Journal   string
	Publisher string

	CitationCount  int
	ReferenceCount int

	// Flags records which fields were missing from the source.
	Flags QualityFlags
}

// CanonicalRecord is the single representative chosen for a group of
// matched duplicates.
type CanonicalRecord struct {
	NormalizedRecord

	// MergedCount is the number of duplicate records this canonical record
	// subsumed, including itself. Always >= 1.
	MergedCount int
}

// LoadSummary reports the outcome of applying a set of canonical records
// to the works table.
type LoadSummary struct {
	Inserted int
	Updated  int
	Failed   int
}

// Add accumulates another summary into this one.
func (s *LoadSummary) Add(other LoadSummary) {
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.Failed += other.Failed
}

// Total returns the number of records accounted for.
func (s LoadSummary) Total() int {
	return s.Inserted + s.Updated + s.Failed
}

// DeriveRecordID derives the stable record identifier for a record.
//
// When a non-empty DOI is available, the ID is "doi:" followed by the
// lower-cased, trimmed DOI. Without a DOI the ID falls back to a signature
// of the normalized title and first author, prefixed "sig:". The fallback
// is deliberately lossy -- distinct works sharing a title and first author
// collide -- which is a stated limitation of DOI-less identity, not a
// defect to work around here.
//
// A record with neither DOI, title, nor authors yields an empty ID.
func DeriveRecordID(doi, title string, authors []string) string {
	if d := strings.TrimSpace(doi); d != "" {
		return "doi:" + strings.ToLower(d)
	}

	normTitle := foldForSignature(title)
	firstAuthor := ""
	if len(authors) > 0 {
		firstAuthor = foldForSignature(authors[0])
	}
	if normTitle == "" && firstAuthor == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(normTitle + "|" + firstAuthor))
	return "sig:" + hex.EncodeToString(sum[:16])
}

// foldForSignature lower-cases a string and collapses runs of non-letter,
// non-digit characters to single spaces, so signature matching is stable
// under punctuation and whitespace differences.
func foldForSignature(s string) string {
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
