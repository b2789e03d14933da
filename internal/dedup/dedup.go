package dedup

import (
	"strings"

	"github.com/helixir/crossref-ingest/internal/domain"
)

// Stats summarizes one deduplication pass.
type Stats struct {
	// Input is the number of records examined.
	Input int

	// Groups is the number of duplicate groups found (groups of size >= 2).
	Groups int

	// Collapsed is the number of records subsumed into a canonical
	// representative, i.e. Input minus the number of output records.
	Collapsed int
}

// group is a set of record indexes believed to denote the same work.
type group struct {
	members []int
	names   map[string]struct{}
}

// Deduplicate collapses duplicates in a batch of normalized records and
// returns one canonical record per group, ordered by the extraction order
// of each group's earliest member.
//
// Matching applies two rules in order. Exact: records with an identical
// non-empty RecordID always merge, whether the ID is DOI-derived or a
// fallback signature. Fallback: DOI-less records with distinct signatures
// merge when their folded titles are equal and their normalized
// author-name sets intersect. Fallback grouping is transitive within a
// title: a record joins the first existing group it shares an author
// with, and carries its authors into that group.
//
// Records with an empty RecordID cannot be matched and pass through
// unchanged. The same input always yields the same output.
func Deduplicate(records []domain.NormalizedRecord) ([]domain.CanonicalRecord, Stats) {
	stats := Stats{Input: len(records)}
	if len(records) == 0 {
		return nil, stats
	}

	groups := make([]*group, 0, len(records))

	// Exact identity: every non-empty RecordID maps to its group.
	byID := make(map[string]*group)
	// Fallback state: DOI-less groups bucketed by folded title.
	byTitle := make(map[string][]*group)

	for i, rec := range records {
		if rec.RecordID == "" {
			// Unidentifiable; passes through as a singleton.
			groups = append(groups, &group{members: []int{i}})
			continue
		}

		names := nameSet(rec.Authors)

		if g, ok := byID[rec.RecordID]; ok {
			g.members = append(g.members, i)
			if g.names != nil {
				for n := range names {
					g.names[n] = struct{}{}
				}
			}
			continue
		}

		if strings.HasPrefix(rec.RecordID, "doi:") {
			g := &group{members: []int{i}}
			byID[rec.RecordID] = g
			groups = append(groups, g)
			continue
		}

		title := foldTitle(rec.Title)

		var joined *group
		if title != "" && len(names) > 0 {
			for _, g := range byTitle[title] {
				if setsIntersect(g.names, names) {
					joined = g
					break
				}
			}
		}

		if joined != nil {
			joined.members = append(joined.members, i)
			for n := range names {
				joined.names[n] = struct{}{}
			}
			byID[rec.RecordID] = joined
			continue
		}

		g := &group{members: []int{i}, names: names}
		byID[rec.RecordID] = g
		if title != "" {
			byTitle[title] = append(byTitle[title], g)
		}
		groups = append(groups, g)
	}

	out := make([]domain.CanonicalRecord, 0, len(groups))
	for _, g := range groups {
		canonical := records[selectCanonical(records, g.members)]
		out = append(out, domain.CanonicalRecord{
			NormalizedRecord: canonical,
			MergedCount:      len(g.members),
		})
		if len(g.members) > 1 {
			stats.Groups++
			stats.Collapsed += len(g.members) - 1
		}
	}

	return out, stats
}

// selectCanonical picks the representative of a duplicate group: the
// member with the fewest missing-field flags, ties broken by the higher
// citation count, then by earliest extraction order.
func selectCanonical(records []domain.NormalizedRecord, members []int) int {
	best := members[0]
	for _, idx := range members[1:] {
		if better(records[idx], records[best]) {
			best = idx
		}
	}
	return best
}

// better reports whether a should replace b as the group representative.
// Extraction order is implied: a always comes later, so a wins only on a
// strict improvement.
func better(a, b domain.NormalizedRecord) bool {
	if a.Flags.Count() != b.Flags.Count() {
		return a.Flags.Count() < b.Flags.Count()
	}
	return a.CitationCount > b.CitationCount
}
