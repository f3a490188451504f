// Package stats derives dashboard statistics from room records.
//
// Everything here is a pure function over RoomStore state: there are no
// mutable counters that could drift, and recomputing over the same records
// always yields the same snapshot.
package stats

import (
	"time"

	"tripdesk/cmd/internal/support"
)

// Snapshot is the dashboard statistics view at one point in time.
type Snapshot struct {
	Waiting            int     `json:"waiting"`
	Active             int     `json:"active"`
	ClosedToday        int     `json:"closed_today"`
	AvgResponseSeconds float64 `json:"avg_response_seconds"`
	ResponseSamples    int     `json:"response_samples"`
}

// AgentRatingSummary folds the non-null ratings of an agent's closed rooms.
type AgentRatingSummary struct {
	AgentID       string  `json:"agent_id"`
	AverageRating float64 `json:"average_rating"`
	TotalRatings  int     `json:"total_ratings"`
}

// Config bounds the avg-response-time sample set.
type Config struct {
	// ResponseWindow is the trailing window for avg_response_seconds.
	// Zero means "the current calendar day" in Location.
	ResponseWindow time.Duration

	// Location is the server timezone used for calendar-day boundaries.
	// Nil means time.Local.
	Location *time.Location
}

func (c Config) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.Local
}

// Compute derives a Snapshot from the given rooms at time now.
func Compute(rooms []support.Room, now time.Time, cfg Config) Snapshot {
	loc := cfg.location()
	now = now.In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	windowStart := dayStart
	if cfg.ResponseWindow > 0 {
		windowStart = now.Add(-cfg.ResponseWindow)
	}

	var snap Snapshot
	var responseTotal time.Duration

	for _, r := range rooms {
		switch r.State {
		case support.StateWaiting:
			snap.Waiting++
		case support.StateActive:
			snap.Active++
		case support.StateClosed:
			if r.ClosedAt != nil && !r.ClosedAt.In(loc).Before(dayStart) && !r.ClosedAt.After(now) {
				snap.ClosedToday++
			}
		}

		if r.AcceptedAt != nil && !r.AcceptedAt.In(loc).Before(windowStart) {
			responseTotal += r.AcceptedAt.Sub(r.CreatedAt)
			snap.ResponseSamples++
		}
	}

	if snap.ResponseSamples > 0 {
		snap.AvgResponseSeconds = responseTotal.Seconds() / float64(snap.ResponseSamples)
	}
	return snap
}

// AgentSummary folds ratings for one agent over closed rooms.
func AgentSummary(rooms []support.Room, agentID string) AgentRatingSummary {
	out := AgentRatingSummary{AgentID: agentID}
	var total int

	for _, r := range rooms {
		if r.State != support.StateClosed || r.Rating == nil {
			continue
		}
		if r.AgentID == nil || *r.AgentID != agentID {
			continue
		}
		total += *r.Rating
		out.TotalRatings++
	}

	if out.TotalRatings > 0 {
		out.AverageRating = float64(total) / float64(out.TotalRatings)
	}
	return out
}
