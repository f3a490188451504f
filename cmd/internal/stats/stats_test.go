package stats

import (
	"testing"
	"time"

	"tripdesk/cmd/internal/support"
)

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt(n int) *int              { return &n }
func ptrStr(s string) *string        { return &s }

func TestCompute_CountsAndAverages(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	now := time.Date(2026, 8, 30, 15, 0, 0, 0, loc)
	dayStart := time.Date(2026, 8, 30, 0, 0, 0, 0, loc)

	rooms := []support.Room{
		{ID: "w1", State: support.StateWaiting, CreatedAt: now.Add(-time.Hour)},
		{ID: "w2", State: support.StateWaiting, CreatedAt: now.Add(-time.Minute)},
		{
			ID: "a1", State: support.StateActive,
			CreatedAt:  now.Add(-30 * time.Minute),
			AcceptedAt: ptrTime(now.Add(-20 * time.Minute)), // 10m response
		},
		{
			ID: "c1", State: support.StateClosed,
			CreatedAt:  dayStart.Add(time.Hour),
			AcceptedAt: ptrTime(dayStart.Add(time.Hour + 30*time.Second)), // 30s response
			ClosedAt:   ptrTime(dayStart.Add(2 * time.Hour)),
		},
		{
			// Closed yesterday: not counted as closed today, response sample
			// outside the current day.
			ID: "c2", State: support.StateClosed,
			CreatedAt:  dayStart.Add(-3 * time.Hour),
			AcceptedAt: ptrTime(dayStart.Add(-2 * time.Hour)),
			ClosedAt:   ptrTime(dayStart.Add(-time.Hour)),
		},
	}

	snap := Compute(rooms, now, Config{Location: loc})

	if snap.Waiting != 2 || snap.Active != 1 || snap.ClosedToday != 1 {
		t.Fatalf("waiting=%d active=%d closed_today=%d want 2/1/1", snap.Waiting, snap.Active, snap.ClosedToday)
	}
	if snap.ResponseSamples != 2 {
		t.Fatalf("response_samples=%d want 2", snap.ResponseSamples)
	}
	wantAvg := (10*time.Minute + 30*time.Second).Seconds() / 2
	if snap.AvgResponseSeconds != wantAvg {
		t.Fatalf("avg_response_seconds=%v want %v", snap.AvgResponseSeconds, wantAvg)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rooms := []support.Room{
		{ID: "r1", State: support.StateWaiting, CreatedAt: now.Add(-time.Hour)},
		{
			ID: "r2", State: support.StateClosed,
			CreatedAt:  now.Add(-2 * time.Hour),
			AcceptedAt: ptrTime(now.Add(-90 * time.Minute)),
			ClosedAt:   ptrTime(now.Add(-time.Hour)),
		},
	}

	cfg := Config{Location: time.UTC}
	first := Compute(rooms, now, cfg)
	for i := 0; i < 10; i++ {
		if got := Compute(rooms, now, cfg); got != first {
			t.Fatalf("recompute %d diverged: %+v vs %+v", i, got, first)
		}
	}
}

func TestCompute_TrailingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rooms := []support.Room{
		{
			ID: "in", State: support.StateActive,
			CreatedAt:  now.Add(-40 * time.Minute),
			AcceptedAt: ptrTime(now.Add(-30 * time.Minute)),
		},
		{
			ID: "out", State: support.StateActive,
			CreatedAt:  now.Add(-3 * time.Hour),
			AcceptedAt: ptrTime(now.Add(-2 * time.Hour)),
		},
	}

	snap := Compute(rooms, now, Config{ResponseWindow: time.Hour, Location: time.UTC})
	if snap.ResponseSamples != 1 {
		t.Fatalf("response_samples=%d want 1", snap.ResponseSamples)
	}
	if want := (10 * time.Minute).Seconds(); snap.AvgResponseSeconds != want {
		t.Fatalf("avg=%v want %v", snap.AvgResponseSeconds, want)
	}
}

func TestCompute_Empty(t *testing.T) {
	t.Parallel()

	snap := Compute(nil, time.Now(), Config{Location: time.UTC})
	if snap != (Snapshot{}) {
		t.Fatalf("empty snapshot=%+v want zero", snap)
	}
}

func TestAgentSummary(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rooms := []support.Room{
		{
			ID: "r1", State: support.StateClosed, CreatedAt: now,
			AgentID: ptrStr("agent-1"), Rating: ptrInt(5),
		},
		{
			ID: "r2", State: support.StateClosed, CreatedAt: now,
			AgentID: ptrStr("agent-1"), Rating: ptrInt(4),
		},
		{
			// Unrated rooms are excluded from the average.
			ID: "r3", State: support.StateClosed, CreatedAt: now,
			AgentID: ptrStr("agent-1"),
		},
		{
			ID: "r4", State: support.StateClosed, CreatedAt: now,
			AgentID: ptrStr("agent-2"), Rating: ptrInt(1),
		},
	}

	sum := AgentSummary(rooms, "agent-1")
	if sum.TotalRatings != 2 {
		t.Fatalf("total_ratings=%d want 2", sum.TotalRatings)
	}
	if sum.AverageRating != 4.5 {
		t.Fatalf("average_rating=%v want 4.5", sum.AverageRating)
	}

	none := AgentSummary(rooms, "agent-3")
	if none.TotalRatings != 0 || none.AverageRating != 0 {
		t.Fatalf("unknown agent summary=%+v want zero", none)
	}
}
