// Package generator is the candidate generation collaborator: given a
// calendar month it asks a model for historically plausible books published
// that month and returns schema-validated candidates.
//
// The collaborator is treated as unreliable. It may return zero books, and
// it may return malformed identifiers; those are validated here so nothing
// downstream ever sees an unchecked ISBN.
package generator

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackzampolin/backlist/internal/isbn"
	"github.com/jackzampolin/backlist/internal/types"
)

// SourceTag marks candidates produced by this collaborator.
const SourceTag = "llm-backfill"

// Generator produces candidates for one month. promptOverride, when
// non-empty, replaces the default user prompt.
type Generator interface {
	Generate(ctx context.Context, year, month int, promptOverride string) (*Result, error)
}

// Result is one month's generation output.
type Result struct {
	Candidates []types.Candidate `json:"candidates"`
	Stats      Stats             `json:"stats"`
}

// Stats describes generation quality for the ledger.
type Stats struct {
	ModelUsed              string         `json:"model_used"`
	ValidIdentifierCount   int            `json:"valid_identifier_count"`
	InvalidIdentifierCount int            `json:"invalid_identifier_count"`
	ConfidenceBuckets      map[string]int `json:"confidence_buckets"`
}

// buildResult converts a validated raw response into candidates, dropping
// any book whose identifier fails checksum validation. Dropped books do not
// count against quota or retry budget, only against the invalid counter.
func buildResult(resp *rawResponse, model string, logger *slog.Logger) *Result {
	result := &Result{
		Candidates: make([]types.Candidate, 0, len(resp.Books)),
		Stats: Stats{
			ModelUsed:         model,
			ConfidenceBuckets: map[string]int{},
		},
	}

	for _, book := range resp.Books {
		confidence := book.Confidence
		if confidence == "" {
			confidence = "unknown"
		}
		result.Stats.ConfidenceBuckets[confidence]++

		candidate := types.Candidate{
			Title:     book.Title,
			Authors:   book.Authors,
			SourceTag: SourceTag,
		}

		if book.ISBN != "" {
			normalized, ok := isbn.ToISBN13(book.ISBN)
			if !ok {
				result.Stats.InvalidIdentifierCount++
				logger.Warn("dropping candidate with invalid identifier",
					"title", book.Title, "isbn", book.ISBN)
				continue
			}
			candidate.ISBN = normalized
			result.Stats.ValidIdentifierCount++
		}

		result.Candidates = append(result.Candidates, candidate)
	}

	return result
}

// monthName formats "January 1987" style labels for prompts.
func monthName(year, month int) string {
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("January 2006")
}
