package generator

import (
	"log/slog"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	payload := `{"books": [
		{"title": "The Bonfire of the Vanities", "authors": ["Tom Wolfe"], "isbn": "9780374115340", "confidence": "high"},
		{"title": "Watchmen", "authors": ["Alan Moore", "Dave Gibbons"], "confidence": "medium"}
	]}`

	resp, err := decodeResponse(payload)
	if err != nil {
		t.Fatalf("decodeResponse() error = %v", err)
	}
	if len(resp.Books) != 2 {
		t.Fatalf("decoded %d books, want 2", len(resp.Books))
	}
	if resp.Books[0].ISBN != "9780374115340" {
		t.Errorf("ISBN = %q", resp.Books[0].ISBN)
	}
}

func TestDecodeResponse_CodeFence(t *testing.T) {
	payload := "```json\n{\"books\": [{\"title\": \"X\", \"authors\": [\"Y\"]}]}\n```"

	resp, err := decodeResponse(payload)
	if err != nil {
		t.Fatalf("decodeResponse() error = %v", err)
	}
	if len(resp.Books) != 1 {
		t.Errorf("decoded %d books, want 1", len(resp.Books))
	}
}

func TestDecodeResponse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "I couldn't find any books for that month."},
		{"missing books key", `{"results": []}`},
		{"missing title", `{"books": [{"authors": ["A"]}]}`},
		{"empty title", `{"books": [{"title": "", "authors": ["A"]}]}`},
		{"bad confidence", `{"books": [{"title": "T", "authors": ["A"], "confidence": "certain"}]}`},
		{"wrong authors type", `{"books": [{"title": "T", "authors": "A"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeResponse(tt.payload); err == nil {
				t.Errorf("decodeResponse(%q) succeeded, want schema rejection", tt.payload)
			}
		})
	}
}

func TestBuildResult_IdentifierValidation(t *testing.T) {
	resp := &rawResponse{Books: []rawBook{
		{Title: "Valid Ten", Authors: []string{"A"}, ISBN: "0-306-40615-2", Confidence: "high"},
		{Title: "Valid Thirteen", Authors: []string{"B"}, ISBN: "9780374115340", Confidence: "high"},
		{Title: "Bad Checksum", Authors: []string{"C"}, ISBN: "9780374115341", Confidence: "low"},
		{Title: "No Identifier", Authors: []string{"D"}},
	}}

	result := buildResult(resp, "test-model", slog.Default())

	// The bad-checksum candidate is dropped entirely, not passed on sans ISBN.
	if len(result.Candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(result.Candidates))
	}
	for _, c := range result.Candidates {
		if c.Title == "Bad Checksum" {
			t.Error("candidate with invalid identifier survived")
		}
		if c.SourceTag != SourceTag {
			t.Errorf("SourceTag = %q, want %q", c.SourceTag, SourceTag)
		}
	}

	if result.Stats.ValidIdentifierCount != 2 {
		t.Errorf("ValidIdentifierCount = %d, want 2", result.Stats.ValidIdentifierCount)
	}
	if result.Stats.InvalidIdentifierCount != 1 {
		t.Errorf("InvalidIdentifierCount = %d, want 1", result.Stats.InvalidIdentifierCount)
	}

	// ISBN-10 input is normalized to ISBN-13.
	if result.Candidates[0].ISBN != "9780306406157" {
		t.Errorf("normalized ISBN = %q, want 9780306406157", result.Candidates[0].ISBN)
	}

	if result.Stats.ConfidenceBuckets["high"] != 2 ||
		result.Stats.ConfidenceBuckets["low"] != 1 ||
		result.Stats.ConfidenceBuckets["unknown"] != 1 {
		t.Errorf("ConfidenceBuckets = %v", result.Stats.ConfidenceBuckets)
	}
}

func TestNewOpenAIGenerator_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{}); err == nil {
		t.Error("missing API key should be rejected")
	}
}

func TestMockGenerator_QueuedResults(t *testing.T) {
	first := &Result{Stats: Stats{ModelUsed: "a"}}
	second := &Result{Stats: Stats{ModelUsed: "b"}}
	mock := &MockGenerator{Results: []*Result{first, second}}

	got, _ := mock.Generate(t.Context(), 2024, 1, "")
	if got != first {
		t.Error("first queued result not returned")
	}
	got, _ = mock.Generate(t.Context(), 2024, 2, "")
	if got != second {
		t.Error("second queued result not returned")
	}
	if mock.CallCount() != 2 {
		t.Errorf("CallCount() = %d, want 2", mock.CallCount())
	}
}
