package generator

import (
	"context"
	"sync"
)

// MockGenerator is a configurable Generator for tests.
type MockGenerator struct {
	mu sync.Mutex

	// Result and Err are returned by every Generate call unless Results
	// queues per-call results.
	Result  *Result
	Err     error
	Results []*Result

	Calls []MockCall
}

// MockCall records one Generate invocation.
type MockCall struct {
	Year, Month    int
	PromptOverride string
}

// NewMockGenerator creates a mock that returns the given result.
func NewMockGenerator(result *Result) *MockGenerator {
	return &MockGenerator{Result: result}
}

// Generate implements Generator.
func (m *MockGenerator) Generate(_ context.Context, year, month int, promptOverride string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Year: year, Month: month, PromptOverride: promptOverride})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Results) > 0 {
		next := m.Results[0]
		m.Results = m.Results[1:]
		return next, nil
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &Result{Stats: Stats{ModelUsed: "mock", ConfidenceBuckets: map[string]int{}}}, nil
}

// CallCount returns how many times Generate ran.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
