package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackzampolin/backlist/internal/dedup"
	"github.com/jackzampolin/backlist/internal/queue"
	"github.com/jackzampolin/backlist/internal/quota"
	"github.com/jackzampolin/backlist/internal/types"
)

// Test doubles for the scheduler's collaborators. Kept out of _test.go so
// other packages' tests can reuse them.

// FakeLocker is an in-memory Locker that records acquire/release order.
type FakeLocker struct {
	mu sync.Mutex

	// Contended keys ("2024-03") are reported as held elsewhere.
	Contended map[string]bool
	// Err fails every acquire.
	Err error

	Acquired []string
	Released []string
	held     map[string]bool
}

func key(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

func (f *FakeLocker) Acquire(_ context.Context, year, month int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return false, f.Err
	}
	k := key(year, month)
	if f.Contended[k] {
		return false, nil
	}
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[k] {
		return false, nil
	}
	f.held[k] = true
	f.Acquired = append(f.Acquired, k)
	return true, nil
}

func (f *FakeLocker) Release(_ context.Context, year, month int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(year, month)
	delete(f.held, k)
	f.Released = append(f.Released, k)
	return nil
}

// FakeQuota is an in-memory QuotaChecker with the same atomic semantics as
// the real manager.
type FakeQuota struct {
	mu sync.Mutex

	Limit int
	Used  int
	// Err fails every check, simulating an unreachable counter store.
	Err error
}

func (f *FakeQuota) Check(_ context.Context, cost int, reserve bool) (bool, quota.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return false, quota.Status{}, f.Err
	}
	status := func() quota.Status {
		remaining := f.Limit - f.Used
		if remaining < 0 {
			remaining = 0
		}
		return quota.Status{Used: f.Used, Remaining: remaining, DailyLimit: f.Limit}
	}
	if f.Used+cost > f.Limit {
		return false, status(), nil
	}
	if reserve {
		f.Used += cost
	}
	return true, status(), nil
}

// PassthroughDeduper reports every candidate unique.
type PassthroughDeduper struct{}

func (PassthroughDeduper) Deduplicate(_ context.Context, candidates []types.Candidate) ([]types.Candidate, dedup.Stats, error) {
	return candidates, dedup.Stats{Total: len(candidates), Unique: len(candidates)}, nil
}

// FakeDispatcher records enqueued messages and can fail on demand.
type FakeDispatcher struct {
	mu sync.Mutex

	// FailOnTitle makes Enqueue fail for a specific candidate.
	FailOnTitle string
	// Err fails every enqueue.
	Err error

	Messages []queue.Message
}

func (f *FakeDispatcher) Enqueue(_ context.Context, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	if f.FailOnTitle != "" && msg.Title == f.FailOnTitle {
		return fmt.Errorf("enqueue refused for %q", msg.Title)
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

// MessageCount returns how many messages were accepted.
func (f *FakeDispatcher) MessageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Messages)
}
