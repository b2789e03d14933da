// Package crossref provides a client for harvesting works from the
// CrossRef REST API with deep (cursor-based) pagination.
//
// CrossRef is the DOI registration agency for scholarly publishing; its
// works endpoint exposes bibliographic metadata for over 150 million
// records. This package fetches pages of works and maps them to the
// pipeline's raw record type without cleaning them; normalization is a
// separate stage.
//
// API Documentation: https://api.crossref.org/swagger-ui/index.html
package crossref

// WorksResponse is the top-level envelope returned by the works endpoint.
type WorksResponse struct {
	Status         string       `json:"status"`
	MessageType    string       `json:"message-type"`
	MessageVersion string       `json:"message-version"`
	Message        WorksMessage `json:"message"`
}

// WorksMessage carries one page of works plus the deep-paging cursor.
// NextCursor is present even on the final page; the page after the last
// non-empty one has an empty Items slice.
type WorksMessage struct {
	TotalResults int    `json:"total-results"`
	NextCursor   string `json:"next-cursor"`
	ItemsPerPage int    `json:"items-per-page"`
	Items        []Work `json:"items"`
}

// Work is one bibliographic item as CrossRef returns it. Titles and
// container titles are arrays; almost every field is optional.
type Work struct {
	DOI            string    `json:"DOI"`
	Title          []string  `json:"title"`
	Author         []Author  `json:"author"`
	Issued         DateField `json:"issued"`
	Published      DateField `json:"published"`
	ContainerTitle []string  `json:"container-title"`
	Publisher      string    `json:"publisher"`
	Type           string    `json:"type"`
	CitedByCount   int       `json:"is-referenced-by-count"`
	ReferenceCount int       `json:"reference-count"`
}

// Author is one contributor. Most records carry Given and Family; some
// organizational contributors only carry Name.
type Author struct {
	Given    string `json:"given"`
	Family   string `json:"family"`
	Name     string `json:"name"`
	Sequence string `json:"sequence"`
	ORCID    string `json:"ORCID"`
}

// DateField is CrossRef's partial-date representation. DateParts holds
// [[year, month, day]] with any suffix omitted; the outer array may be
// empty or contain a single [nil] entry for unknown dates.
type DateField struct {
	DateParts [][]*int `json:"date-parts"`
}

// Year returns the year component of the date, or 0 when absent.
func (d DateField) Year() int {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return 0
	}
	if y := d.DateParts[0][0]; y != nil {
		return *y
	}
	return 0
}

// Parts returns the date as a flat [year, month, day] prefix, dropping
// trailing absent components.
func (d DateField) Parts() []int {
	if len(d.DateParts) == 0 {
		return nil
	}
	parts := make([]int, 0, len(d.DateParts[0]))
	for _, p := range d.DateParts[0] {
		if p == nil {
			break
		}
		parts = append(parts, *p)
	}
	return parts
}
