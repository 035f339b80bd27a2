// Package dedup partitions generated candidates into "already catalogued"
// and "needs enrichment" before any costly external resolution runs.
//
// Three tiers apply in strict precedence: exact ISBN match, related
// identifier match, then fuzzy (title, author) match. A candidate matched
// at an earlier tier is never re-evaluated at a later one, so per-tier
// stats always sum to the batch total.
package dedup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackzampolin/backlist/internal/types"
)

// Default trigram-similarity thresholds for the fuzzy tier.
const (
	DefaultTitleThreshold  = 0.85
	DefaultAuthorThreshold = 0.80
)

// CatalogMatcher is the read-only view of the existing catalog the tiers
// need. *catalog.Store implements it.
type CatalogMatcher interface {
	ExistingISBNs(ctx context.Context, isbns []string) (map[string]bool, error)
	RelatedISBNs(ctx context.Context, isbns []string) (map[string]bool, error)
	HasSimilar(ctx context.Context, normTitle, normAuthor string, titleThreshold, authorThreshold float64) (bool, error)
}

// Stats records per-tier match counts for one batch.
// Total == Unique + DuplicateExact + DuplicateRelated + DuplicateFuzzy.
type Stats struct {
	Total            int `json:"total"`
	Unique           int `json:"unique"`
	DuplicateExact   int `json:"duplicate_exact"`
	DuplicateRelated int `json:"duplicate_related"`
	DuplicateFuzzy   int `json:"duplicate_fuzzy"`
}

// Engine applies the dedup tiers against a catalog.
type Engine struct {
	catalog         CatalogMatcher
	titleThreshold  float64
	authorThreshold float64
	logger          *slog.Logger
}

// Config configures a new Engine.
type Config struct {
	Catalog CatalogMatcher
	Logger  *slog.Logger

	// Fuzzy-tier thresholds. Zero values use the defaults.
	TitleThreshold  float64
	AuthorThreshold float64
}

// NewEngine creates a dedup engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog matcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	titleThreshold := cfg.TitleThreshold
	if titleThreshold <= 0 {
		titleThreshold = DefaultTitleThreshold
	}
	authorThreshold := cfg.AuthorThreshold
	if authorThreshold <= 0 {
		authorThreshold = DefaultAuthorThreshold
	}

	return &Engine{
		catalog:         cfg.Catalog,
		titleThreshold:  titleThreshold,
		authorThreshold: authorThreshold,
		logger:          logger.With("component", "dedup"),
	}, nil
}

// Deduplicate partitions candidates, preserving input order among the
// survivors. Classification is sequential and depends only on the catalog
// contents and the candidate list, so repeat runs are reproducible.
func (e *Engine) Deduplicate(ctx context.Context, candidates []types.Candidate) ([]types.Candidate, Stats, error) {
	stats := Stats{Total: len(candidates)}
	if len(candidates) == 0 {
		return nil, stats, nil
	}

	isbns := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.ISBN != "" {
			isbns = append(isbns, c.ISBN)
		}
	}

	// Tiers 1 and 2 are batched: one catalog query each.
	exact, err := e.catalog.ExistingISBNs(ctx, isbns)
	if err != nil {
		return nil, stats, fmt.Errorf("exact tier failed: %w", err)
	}
	related, err := e.catalog.RelatedISBNs(ctx, isbns)
	if err != nil {
		return nil, stats, fmt.Errorf("related tier failed: %w", err)
	}

	toEnrich := make([]types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		switch {
		case c.ISBN != "" && exact[c.ISBN]:
			stats.DuplicateExact++

		case c.ISBN != "" && related[c.ISBN]:
			stats.DuplicateRelated++

		default:
			dup, err := e.fuzzyMatch(ctx, c)
			if err != nil {
				return nil, stats, fmt.Errorf("fuzzy tier failed: %w", err)
			}
			if dup {
				stats.DuplicateFuzzy++
				continue
			}
			stats.Unique++
			toEnrich = append(toEnrich, c)
		}
	}

	e.logger.Debug("batch deduplicated",
		"total", stats.Total,
		"unique", stats.Unique,
		"exact", stats.DuplicateExact,
		"related", stats.DuplicateRelated,
		"fuzzy", stats.DuplicateFuzzy,
	)

	return toEnrich, stats, nil
}

func (e *Engine) fuzzyMatch(ctx context.Context, c types.Candidate) (bool, error) {
	normTitle := NormalizeTitle(c.Title)
	if normTitle == "" {
		return false, nil
	}
	normAuthor := NormalizeAuthor(c.PrimaryAuthor())
	return e.catalog.HasSimilar(ctx, normTitle, normAuthor, e.titleThreshold, e.authorThreshold)
}
