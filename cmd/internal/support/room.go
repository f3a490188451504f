// Package support implements the customer-service room lifecycle core:
// room state machine, claim coordination, and the per-room message log.
package support

import "time"

// RoomState is the lifecycle state of a support room.
// Transitions are monotonic: waiting -> active -> closed, or waiting -> closed
// when a customer abandons a room before any agent claims it.
type RoomState string

const (
	StateWaiting RoomState = "waiting"
	StateActive  RoomState = "active"
	StateClosed  RoomState = "closed"
)

func (s RoomState) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateClosed:
		return true
	}
	return false
}

// SenderRole identifies who produced a message.
type SenderRole string

const (
	RoleCustomer SenderRole = "customer"
	RoleAgent    SenderRole = "agent"
	RoleSystem   SenderRole = "system"
)

func (r SenderRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// Room is one customer-support conversation session.
//
// Invariants maintained by RoomStore implementations:
//   - AgentID is non-nil iff the room passed through a successful claim.
//   - AcceptedAt <= ClosedAt when both are set.
//   - Rating is set at most once, only on closed rooms that had an agent.
type Room struct {
	ID         string
	CustomerID string
	AgentID    *string
	State      RoomState
	CreatedAt  time.Time
	AcceptedAt *time.Time
	ClosedAt   *time.Time
	Rating     *int
}

// Message is an immutable entry in a room's append log.
// Seq starts at 1 and is gap-free per room as observed by any single reader.
type Message struct {
	RoomID     string
	Seq        int64
	SenderID   string
	SenderRole SenderRole
	Content    string
	CreatedAt  time.Time
}

// Rating bounds (inclusive).
const (
	MinRating = 1
	MaxRating = 5
)
