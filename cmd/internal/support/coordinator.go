package support

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Coordinator enforces at-most-one-agent-per-room assignment.
//
// It holds no persistent state of its own: atomicity comes from the store's
// waiting->active check-and-set. Competing claims are never queued; every
// loser gets an immediate ErrAlreadyClaimed so the dashboard can refresh.
type Coordinator struct {
	log   *slog.Logger
	store RoomStore

	outcomes *prometheus.CounterVec
}

// CoordinatorOption configures optional Coordinator dependencies.
type CoordinatorOption func(*Coordinator)

// WithClaimOutcomes records claim results on a counter labelled by outcome.
func WithClaimOutcomes(c *prometheus.CounterVec) CoordinatorOption {
	return func(co *Coordinator) {
		if co == nil || c == nil {
			return
		}
		co.outcomes = c
	}
}

// NewCoordinator constructs a claim coordinator over the given store.
func NewCoordinator(log *slog.Logger, store RoomStore, opts ...CoordinatorOption) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	co := &Coordinator{log: log, store: store}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(co)
	}
	return co
}

// Claim attempts the atomic waiting->active transition for roomID.
func (c *Coordinator) Claim(ctx context.Context, in ClaimRoomInput) (Room, error) {
	if c == nil || c.store == nil {
		return Room{}, errors.New("support: nil coordinator")
	}

	room, err := c.store.ClaimRoom(ctx, in)
	switch {
	case err == nil:
		c.countOutcome("won")
		c.log.Info("room.claim.won", "room_id", in.RoomID, "agent_id", in.AgentID)
	case IsAlreadyClaimed(err):
		c.countOutcome("lost")
		c.log.Info("room.claim.lost", "room_id", in.RoomID, "agent_id", in.AgentID)
	case IsNotFound(err), IsInvalidInput(err):
		c.countOutcome("rejected")
	default:
		c.countOutcome("error")
		c.log.Error("room.claim.fail", "room_id", in.RoomID, "err", err)
	}
	return room, err
}

func (c *Coordinator) countOutcome(outcome string) {
	if c.outcomes == nil {
		return
	}
	c.outcomes.WithLabelValues(outcome).Inc()
}
