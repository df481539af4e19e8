package dispatch_test

import (
	"testing"
	"time"

	"github.com/feedbax/dispatch"
)

func TestDefaultScheduleDelays(t *testing.T) {
	s := dispatch.DefaultRetrySchedule()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 15 * time.Minute},
		{1, 15 * time.Minute},
		{2, time.Hour},
		{3, 6 * time.Hour},
		{4, 6 * time.Hour},
		{100, 6 * time.Hour},
	}

	for _, tt := range tests {
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Fatalf("attempt %d: expected %s, got %s", tt.attempt, tt.want, got)
		}
	}
}

func TestEmptyScheduleRetriesImmediately(t *testing.T) {
	var s dispatch.RetrySchedule

	if got := s.Delay(1); got != 0 {
		t.Fatalf("expected zero delay, got %s", got)
	}
}

func TestNextAttemptAtIsUTC(t *testing.T) {
	s := dispatch.RetrySchedule{15 * time.Minute}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	got := s.NextAttemptAt(now, 1)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %s", got.Location())
	}

	if !got.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expected %s, got %s", now.Add(15*time.Minute), got)
	}
}
