package harvest

import (
	"fmt"
	"time"
)

// Month is one row of the harvest ledger: a single (year, month) work unit.
// Rows are seeded once as pending, mutated only by the scheduler under lock,
// and never deleted.
type Month struct {
	Year       int    `db:"year" json:"year"`
	MonthNum   int    `db:"month" json:"month"`
	Status     Status `db:"status" json:"status"`
	RetryCount int    `db:"retry_count" json:"retry_count"`

	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	LastRetryAt *time.Time `db:"last_retry_at" json:"last_retry_at,omitempty"`

	BooksGenerated int     `db:"books_generated" json:"books_generated"`
	ISBNsResolved  int     `db:"isbns_resolved" json:"isbns_resolved"`
	ResolutionRate float64 `db:"resolution_rate" json:"resolution_rate"`
	ISBNsQueued    int     `db:"isbns_queued" json:"isbns_queued"`

	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`
}

// Ref returns the canonical "YYYY-MM" reference for the month.
func (m Month) Ref() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.MonthNum)
}

// MonthStats carries the cumulative counters written on completion.
type MonthStats struct {
	BooksGenerated int     `json:"books_generated"`
	ISBNsResolved  int     `json:"isbns_resolved"`
	ResolutionRate float64 `json:"resolution_rate"`
	ISBNsQueued    int     `json:"isbns_queued"`
}

// YearCompletion is the roll-up returned by RecordMonthComplete.
type YearCompletion struct {
	Year            int  `json:"year"`
	MonthsCompleted int  `json:"months_completed"`
	YearIsComplete  bool `json:"year_is_complete"`
}

// Summary aggregates ledger-wide progress counters.
type Summary struct {
	TotalMonths      int `db:"total_months" json:"total_months"`
	PendingMonths    int `db:"pending_months" json:"pending_months"`
	ProcessingMonths int `db:"processing_months" json:"processing_months"`
	CompletedMonths  int `db:"completed_months" json:"completed_months"`
	FailedMonths     int `db:"failed_months" json:"failed_months"`
	RetryMonths      int `db:"retry_months" json:"retry_months"`

	BooksGenerated int `db:"books_generated" json:"books_generated"`
	ISBNsResolved  int `db:"isbns_resolved" json:"isbns_resolved"`
	ISBNsQueued    int `db:"isbns_queued" json:"isbns_queued"`
}
