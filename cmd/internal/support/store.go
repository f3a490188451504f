package support

import (
	"context"
	"time"
)

// StateFilter selects rooms for listing. The zero value lists everything.
type StateFilter string

const (
	FilterAll     StateFilter = "all"
	FilterWaiting StateFilter = "waiting"
	FilterActive  StateFilter = "active"
	FilterClosed  StateFilter = "closed"
)

// ParseStateFilter maps a query-string value to a StateFilter.
// Empty input means FilterAll.
func ParseStateFilter(s string) (StateFilter, bool) {
	switch StateFilter(s) {
	case "", FilterAll:
		return FilterAll, true
	case FilterWaiting:
		return FilterWaiting, true
	case FilterActive:
		return FilterActive, true
	case FilterClosed:
		return FilterClosed, true
	}
	return "", false
}

// RoomStore owns Room and Message records and is the single source of truth.
//
// Requirements for implementations:
//   - ClaimRoom is an atomic waiting->active check-and-set; competing claims
//     never queue, the losers fail immediately with ErrAlreadyClaimed.
//   - AppendMessage serializes per room so seq order equals causal append order.
//   - Operations on different rooms never block one another.
//   - Reads observe a state that existed at some point during the read.
type RoomStore interface {
	CreateRoom(ctx context.Context, in CreateRoomInput) (Room, error)
	GetRoom(ctx context.Context, roomID string) (Room, error)
	ListRooms(ctx context.Context, in ListRoomsInput) ([]Room, error)

	// SnapshotRooms returns every room for stats recomputation. The result
	// reflects a state that existed at some point during the read.
	SnapshotRooms(ctx context.Context) ([]Room, error)
	ClaimRoom(ctx context.Context, in ClaimRoomInput) (Room, error)
	CloseRoom(ctx context.Context, in CloseRoomInput) (CloseRoomResult, error)
	RateRoom(ctx context.Context, in RateRoomInput) (Room, error)
	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)
	ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error)
	Close() error
}

// CreateRoomInput describes a room creation request.
type CreateRoomInput struct {
	CustomerID string
	Now        time.Time
}

// ListRoomsInput selects rooms by state, newest first.
type ListRoomsInput struct {
	Filter StateFilter
	Limit  int
}

// ClaimRoomInput describes an agent's claim on a waiting room.
type ClaimRoomInput struct {
	RoomID  string
	AgentID string
	Now     time.Time
}

// CloseRoomInput describes a close request. ActorID is recorded in logs only;
// closing is permitted for both sides of the conversation.
type CloseRoomInput struct {
	RoomID  string
	ActorID string
	Now     time.Time
}

// CloseRoomResult reports the room after the operation and whether the state
// actually changed. Closing an already-closed room succeeds with Changed=false.
type CloseRoomResult struct {
	Room    Room
	Changed bool
}

// RateRoomInput describes a customer rating on a closed, agent-served room.
type RateRoomInput struct {
	RoomID string
	Score  int
	Now    time.Time
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	RoomID     string
	SenderID   string
	SenderRole SenderRole
	Content    string
	Now        time.Time
}

// ListMessagesInput pages through a room's log in seq ASC order.
type ListMessagesInput struct {
	RoomID   string
	AfterSeq *int64
	Limit    int
}

// ListMessagesResult contains the retrieved log window.
type ListMessagesResult struct {
	Messages []Message
	HasMore  bool
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
