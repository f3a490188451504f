package support

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a RoomStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - The waiting->active claim is a single-statement compare-and-swap on the
//     room row, so a timed-out request can never leave a half-claimed room.
//   - Message appends take a per-room transactional advisory lock plus a
//     cursor row, guaranteeing gap-free monotonic seq under concurrency.
//   - Neither gate spans more than one room.
type PostgresStore struct {
	pool       *pgxpool.Pool
	schema     string
	closeGrace time.Duration
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "tripdesk").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("support: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("support: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithCloseGrace allows appends for d after a room closes (default zero).
func WithCloseGrace(d time.Duration) PostgresOption {
	return func(s *PostgresStore) error {
		if d < 0 {
			return errors.New("support: negative close grace")
		}
		s.closeGrace = d
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed RoomStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "tripdesk",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("support: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const roomColumns = `id, customer_id, agent_id, state, created_at, accepted_at, closed_at, rating`

// CreateRoom inserts a new room in the waiting state.
func (s *PostgresStore) CreateRoom(ctx context.Context, in CreateRoomInput) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("support: nil store")
	}
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

	rooms := pgIdent(s.schema, "rooms")
	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+rooms+` (id, customer_id, state, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+roomColumns,
		id, customerID, string(StateWaiting), now,
	)
	return scanRoom(row)
}

// GetRoom fetches one room by id.
func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("support: nil store")
	}
	if strings.TrimSpace(roomID) == "" {
		return Room{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	rooms := pgIdent(s.schema, "rooms")
	row := s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM `+rooms+` WHERE id = $1`,
		roomID,
	)
	r, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	return r, err
}

// ListRooms returns matching rooms, newest first.
func (s *PostgresStore) ListRooms(ctx context.Context, in ListRoomsInput) ([]Room, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("support: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filter := in.Filter
	if filter == "" {
		filter = FilterAll
	}
	limit := in.Limit
	if limit <= 0 {
		limit = maxListLimit
	}

	rooms := pgIdent(s.schema, "rooms")

	var (
		rows pgx.Rows
		err  error
	)
	if filter == FilterAll {
		rows, err = s.pool.Query(ctx,
			`SELECT `+roomColumns+` FROM `+rooms+`
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+roomColumns+` FROM `+rooms+`
			 WHERE state = $1
			 ORDER BY created_at DESC, id DESC
			 LIMIT $2`,
			string(filter), limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Room, 0, limit)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SnapshotRooms returns every room for stats recomputation.
func (s *PostgresStore) SnapshotRooms(ctx context.Context) ([]Room, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("support: nil store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rooms := pgIdent(s.schema, "rooms")
	rows, err := s.pool.Query(ctx,
		`SELECT `+roomColumns+` FROM `+rooms+` ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Room, 0, 256)
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimRoom performs the atomic waiting->active compare-and-swap.
func (s *PostgresStore) ClaimRoom(ctx context.Context, in ClaimRoomInput) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("support: nil store")
	}
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

	rooms := pgIdent(s.schema, "rooms")

	// Single-statement CAS: the WHERE state guard makes exactly one of N
	// concurrent claims match; losers fall through to classification below.
	row := s.pool.QueryRow(ctx,
		`UPDATE `+rooms+`
		    SET state = $3, agent_id = $2, accepted_at = $4
		  WHERE id = $1 AND state = $5
		RETURNING `+roomColumns,
		in.RoomID, agentID, string(StateActive), now, string(StateWaiting),
	)
	r, err := scanRoom(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Room{}, fmt.Errorf("claim room: %w", err)
	}

	// No row updated: either the room is unknown or it left waiting already.
	if _, err := s.GetRoom(ctx, in.RoomID); err != nil {
		return Room{}, err
	}
	return Room{}, ErrAlreadyClaimed
}

// CloseRoom transitions {waiting, active} -> closed; idempotent on closed rooms.
func (s *PostgresStore) CloseRoom(ctx context.Context, in CloseRoomInput) (CloseRoomResult, error) {
	if s == nil || s.pool == nil {
		return CloseRoomResult{}, errors.New("support: nil store")
	}
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

	rooms := pgIdent(s.schema, "rooms")

	// GREATEST keeps the accepted_at <= closed_at invariant under clock skew.
	row := s.pool.QueryRow(ctx,
		`UPDATE `+rooms+`
		    SET state = $2, closed_at = GREATEST($3, COALESCE(accepted_at, $3))
		  WHERE id = $1 AND state <> $2
		RETURNING `+roomColumns,
		in.RoomID, string(StateClosed), now,
	)
	r, err := scanRoom(row)
	if err == nil {
		return CloseRoomResult{Room: r, Changed: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return CloseRoomResult{}, fmt.Errorf("close room: %w", err)
	}

	r, err = s.GetRoom(ctx, in.RoomID)
	if err != nil {
		return CloseRoomResult{}, err
	}
	return CloseRoomResult{Room: r, Changed: false}, nil
}

// RateRoom records a one-time rating on a closed, agent-served room.
func (s *PostgresStore) RateRoom(ctx context.Context, in RateRoomInput) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("support: nil store")
	}
	if strings.TrimSpace(in.RoomID) == "" {
		return Room{}, ErrInvalidInput
	}
	if in.Score < MinRating || in.Score > MaxRating {
		return Room{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}

	rooms := pgIdent(s.schema, "rooms")

	row := s.pool.QueryRow(ctx,
		`UPDATE `+rooms+`
		    SET rating = $2
		  WHERE id = $1 AND state = $3 AND agent_id IS NOT NULL AND rating IS NULL
		RETURNING `+roomColumns,
		in.RoomID, in.Score, string(StateClosed),
	)
	r, err := scanRoom(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Room{}, fmt.Errorf("rate room: %w", err)
	}

	if _, err := s.GetRoom(ctx, in.RoomID); err != nil {
		return Room{}, err
	}
	return Room{}, ErrInvalidState
}

// AppendMessage appends with gap-free per-room seq allocation.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("support: nil store")
	}
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rooms := pgIdent(s.schema, "rooms")
	cursors := pgIdent(s.schema, "room_cursors")
	messages := pgIdent(s.schema, "messages")

	// Serialize writes per room so seq order equals causal append order.
	// hashtextextended reduces collision risk vs hashtext.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.RoomID); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	var (
		state    string
		closedAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT state, closed_at FROM `+rooms+` WHERE id = $1`,
		in.RoomID,
	).Scan(&state, &closedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if RoomState(state) == StateClosed {
		if s.closeGrace <= 0 || closedAt == nil || now.Sub(*closedAt) > s.closeGrace {
			return Message{}, ErrRoomClosed
		}
	}

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (room_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (room_id) DO NOTHING`,
		in.RoomID,
	); err != nil {
		return Message{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE room_id = $1
		RETURNING (next_seq - 1)`,
		in.RoomID,
	).Scan(&seq); err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     room_id, seq, sender_id, sender_role, content, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6)`,
		in.RoomID, seq, in.SenderID, string(in.SenderRole), in.Content, now,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	return Message{
		RoomID:     in.RoomID,
		Seq:        seq,
		SenderID:   in.SenderID,
		SenderRole: in.SenderRole,
		Content:    in.Content,
		CreatedAt:  now,
	}, nil
}

// ListMessages returns messages ordered by seq ASC, with optional paging.
func (s *PostgresStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	if s == nil || s.pool == nil {
		return ListMessagesResult{}, errors.New("support: nil store")
	}
	if strings.TrimSpace(in.RoomID) == "" {
		return ListMessagesResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	if _, err := s.GetRoom(ctx, in.RoomID); err != nil {
		return ListMessagesResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	messages := pgIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	if in.AfterSeq == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT room_id, seq, sender_id, sender_role, content, created_at
			   FROM `+messages+`
			  WHERE room_id = $1
			  ORDER BY seq ASC
			  LIMIT $2`,
			in.RoomID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT room_id, seq, sender_id, sender_role, content, created_at
			   FROM `+messages+`
			  WHERE room_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			in.RoomID, *in.AfterSeq, fetch,
		)
	}
	if err != nil {
		return ListMessagesResult{}, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, fetch)
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.RoomID, &m.Seq, &m.SenderID, &role, &m.Content, &m.CreatedAt); err != nil {
			return ListMessagesResult{}, err
		}
		m.SenderRole = SenderRole(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	return ListMessagesResult{Messages: msgs, HasMore: hasMore}, nil
}

func scanRoom(row pgx.Row) (Room, error) {
	var (
		r     Room
		state string
	)
	err := row.Scan(
		&r.ID,
		&r.CustomerID,
		&r.AgentID,
		&state,
		&r.CreatedAt,
		&r.AcceptedAt,
		&r.ClosedAt,
		&r.Rating,
	)
	if err != nil {
		return Room{}, err
	}
	r.State = RoomState(state)
	return r, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
