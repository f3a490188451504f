package support

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const memMaxMessagesPerRoom = 10_000

// MemoryStore is a RoomStore for dev and tests.
//
// A single mutex guards the room map; every critical section is a short
// in-memory check-and-set, so contention never amounts to waiting on another
// agent's action. Reads copy records out, so callers always observe a state
// that existed at some point during the read.
type MemoryStore struct {
	closeGrace time.Duration

	mu    sync.Mutex
	rooms map[string]*memRoom
}

type memRoom struct {
	room Room
	seq  int64
	msgs []Message
}

// MemoryOption configures MemoryStore behavior.
type MemoryOption func(*MemoryStore)

// WithMemoryCloseGrace allows appends for d after a room closes (default zero).
func WithMemoryCloseGrace(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if s == nil || d < 0 {
			return
		}
		s.closeGrace = d
	}
}

// NewMemoryStore constructs an in-memory RoomStore implementation.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		rooms: make(map[string]*memRoom),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// CreateRoom creates a new room in the waiting state.
func (s *MemoryStore) CreateRoom(ctx context.Context, in CreateRoomInput) (Room, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		return Room{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewRoomID(now)
	if err != nil {
		return Room{}, err
	}

	room := Room{
		ID:         id,
		CustomerID: customerID,
		State:      StateWaiting,
		CreatedAt:  now,
	}

	s.mu.Lock()
	s.rooms[id] = &memRoom{room: room}
	s.mu.Unlock()

	return room, nil
}

// GetRoom returns a snapshot of one room.
func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if strings.TrimSpace(roomID) == "" {
		return Room{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r.room, nil
}

// ListRooms returns matching rooms, newest first.
func (s *MemoryStore) ListRooms(ctx context.Context, in ListRoomsInput) ([]Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := in.Filter
	if filter == "" {
		filter = FilterAll
	}

	s.mu.Lock()
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if filter != FilterAll && r.room.State != RoomState(filter) {
			continue
		}
		out = append(out, r.room)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if in.Limit > 0 && len(out) > in.Limit {
		out = out[:in.Limit]
	}
	return out, nil
}

// SnapshotRooms returns a copy of every room for stats recomputation.
func (s *MemoryStore) SnapshotRooms(ctx context.Context) ([]Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.room)
	}
	s.mu.Unlock()

	return out, nil
}

// ClaimRoom performs the atomic waiting->active check-and-set.
// Exactly one concurrent claim wins; the rest get ErrAlreadyClaimed.
func (s *MemoryStore) ClaimRoom(ctx context.Context, in ClaimRoomInput) (Room, error) {
	agentID := strings.TrimSpace(in.AgentID)
	if strings.TrimSpace(in.RoomID) == "" || agentID == "" {
		return Room{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[in.RoomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	if r.room.State != StateWaiting {
		return Room{}, ErrAlreadyClaimed
	}

	r.room.State = StateActive
	r.room.AgentID = &agentID
	acceptedAt := now
	r.room.AcceptedAt = &acceptedAt

	return r.room, nil
}

// CloseRoom transitions {waiting, active} -> closed.
// Closing an already-closed room is idempotent success without state change.
func (s *MemoryStore) CloseRoom(ctx context.Context, in CloseRoomInput) (CloseRoomResult, error) {
	if strings.TrimSpace(in.RoomID) == "" {
		return CloseRoomResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return CloseRoomResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[in.RoomID]
	if !ok {
		return CloseRoomResult{}, ErrNotFound
	}
	if r.room.State == StateClosed {
		return CloseRoomResult{Room: r.room, Changed: false}, nil
	}

	r.room.State = StateClosed
	closedAt := now
	if r.room.AcceptedAt != nil && closedAt.Before(*r.room.AcceptedAt) {
		closedAt = *r.room.AcceptedAt
	}
	r.room.ClosedAt = &closedAt

	return CloseRoomResult{Room: r.room, Changed: true}, nil
}

// RateRoom records a one-time customer rating on a closed, agent-served room.
func (s *MemoryStore) RateRoom(ctx context.Context, in RateRoomInput) (Room, error) {
	if strings.TrimSpace(in.RoomID) == "" {
		return Room{}, ErrInvalidInput
	}
	if in.Score < MinRating || in.Score > MaxRating {
		return Room{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[in.RoomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	// Abandoned rooms (never claimed) are not ratable: no agent served them.
	if r.room.State != StateClosed || r.room.AgentID == nil || r.room.Rating != nil {
		return Room{}, ErrInvalidState
	}

	score := in.Score
	r.room.Rating = &score

	return r.room, nil
}

// AppendMessage appends to the room's log with per-room seq allocation.
func (s *MemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	if strings.TrimSpace(in.RoomID) == "" || strings.TrimSpace(in.SenderID) == "" {
		return Message{}, ErrInvalidInput
	}
	if !in.SenderRole.Valid() || strings.TrimSpace(in.Content) == "" {
		return Message{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[in.RoomID]
	if !ok {
		return Message{}, ErrNotFound
	}
	if r.room.State == StateClosed {
		if s.closeGrace <= 0 || r.room.ClosedAt == nil || now.Sub(*r.room.ClosedAt) > s.closeGrace {
			return Message{}, ErrRoomClosed
		}
	}

	r.seq++
	msg := Message{
		RoomID:     in.RoomID,
		Seq:        r.seq,
		SenderID:   in.SenderID,
		SenderRole: in.SenderRole,
		Content:    in.Content,
		CreatedAt:  now,
	}
	r.msgs = append(r.msgs, msg)

	// Bound memory to avoid unbounded growth in dev.
	if len(r.msgs) > memMaxMessagesPerRoom {
		r.msgs = r.msgs[len(r.msgs)-memMaxMessagesPerRoom:]
	}

	return msg, nil
}

// ListMessages returns messages ordered by seq ASC with paging via AfterSeq.
func (s *MemoryStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	if strings.TrimSpace(in.RoomID) == "" {
		return ListMessagesResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	s.mu.Lock()
	r, ok := s.rooms[in.RoomID]
	var snap []Message
	if ok {
		snap = append([]Message(nil), r.msgs...)
	}
	s.mu.Unlock()

	if !ok {
		return ListMessagesResult{}, ErrNotFound
	}
	if len(snap) == 0 {
		return ListMessagesResult{}, nil
	}

	start := 0
	if in.AfterSeq != nil {
		after := *in.AfterSeq
		start = sort.Search(len(snap), func(i int) bool { return snap[i].Seq > after })
		if start >= len(snap) {
			return ListMessagesResult{}, nil
		}
	}

	end := start + fetch
	if end > len(snap) {
		end = len(snap)
	}
	out := snap[start:end]

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return ListMessagesResult{Messages: out, HasMore: hasMore}, nil
}
