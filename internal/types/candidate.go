// Package types holds the small shared value types that cross component
// boundaries.
package types

// Candidate is an unverified book proposed for ingestion. Candidates are
// ephemeral: produced by the generator, partitioned by dedup, and discarded
// once the batch completes.
type Candidate struct {
	// ISBN is the normalized ISBN-13, empty when the generator proposed
	// the book without an identifier.
	ISBN      string   `json:"isbn,omitempty"`
	Title     string   `json:"title"`
	Authors   []string `json:"authors"`
	SourceTag string   `json:"source_tag,omitempty"`
}

// PrimaryAuthor returns the first listed author, or "" for anonymous works.
func (c Candidate) PrimaryAuthor() string {
	if len(c.Authors) == 0 {
		return ""
	}
	return c.Authors[0]
}
