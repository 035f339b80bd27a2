// Package catalog queries the existing book catalog on behalf of the
// deduplication tiers. It is read-only: backlist never writes catalog rows,
// the enrichment pipeline does.
package catalog

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store runs catalog lookups against Postgres.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a catalog store.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ExistingISBNs returns the subset of isbns already catalogued as a primary
// identifier. One query per batch regardless of batch size.
func (s *Store) ExistingISBNs(ctx context.Context, isbns []string) (map[string]bool, error) {
	if len(isbns) == 0 {
		return map[string]bool{}, nil
	}
	query := `SELECT isbn13 FROM books WHERE isbn13 = ANY($1)`

	found := []string{}
	if err := s.db.SelectContext(ctx, &found, query, pq.Array(isbns)); err != nil {
		return nil, fmt.Errorf("failed to match catalog isbns: %w", err)
	}
	return toSet(found), nil
}

// RelatedISBNs returns the subset of isbns known as related identifiers of
// an existing record (alternate-format editions and the like).
func (s *Store) RelatedISBNs(ctx context.Context, isbns []string) (map[string]bool, error) {
	if len(isbns) == 0 {
		return map[string]bool{}, nil
	}
	query := `SELECT DISTINCT isbn13 FROM related_identifiers WHERE isbn13 = ANY($1)`

	found := []string{}
	if err := s.db.SelectContext(ctx, &found, query, pq.Array(isbns)); err != nil {
		return nil, fmt.Errorf("failed to match related identifiers: %w", err)
	}
	return toSet(found), nil
}

// HasSimilar reports whether any catalogued record matches the normalized
// (title, author) tuple above the given trigram-similarity thresholds.
// Computed in SQL so classification is deterministic for a given catalog.
func (s *Store) HasSimilar(ctx context.Context, normTitle, normAuthor string, titleThreshold, authorThreshold float64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM books
			WHERE similarity(normalized_title, $1) >= $3
			  AND similarity(normalized_author, $2) >= $4
		)
	`
	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, normTitle, normAuthor, titleThreshold, authorThreshold); err != nil {
		return false, fmt.Errorf("failed to run fuzzy catalog match: %w", err)
	}
	return exists, nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
