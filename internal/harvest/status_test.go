package harvest

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusRetry, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusFailed, StatusRetry, true},

		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusProcessing, false},
		{StatusProcessing, StatusPending, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCheckTransition(t *testing.T) {
	if err := CheckTransition(StatusPending, StatusProcessing); err != nil {
		t.Errorf("legal transition rejected: %v", err)
	}
	if err := CheckTransition(StatusCompleted, StatusProcessing); err == nil {
		t.Error("completed -> processing should be rejected")
	}
	if err := CheckTransition(Status("bogus"), StatusProcessing); err == nil {
		t.Error("unknown status should be rejected")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetry} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("queued").Valid() {
		t.Error("queued should not be valid")
	}
}
