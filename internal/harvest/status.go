package harvest

import "fmt"

// Status is the lifecycle state of a harvest month.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetry:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transitions apply.
// Failed months are terminal only once the retry ceiling is reached,
// which is a selection concern, so failed is not terminal here.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// transitions is the allowed edge set of the month state machine.
// The SQL guards on UPDATE statements defend against races; this table
// rejects illegal transitions before any SQL runs.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusRetry:      {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusRetry},
	StatusCompleted:  {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an error describing an illegal edge.
func CheckTransition(from, to Status) error {
	if !from.Valid() {
		return fmt.Errorf("unknown status %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	return nil
}
