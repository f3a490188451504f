// Package api is the REST surface of the broker. Room lifecycle and message
// writes go through here; the event stream only pushes what these handlers
// commit to the store.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"tripdesk/cmd/internal/realtime"
	"tripdesk/cmd/internal/stats"
	"tripdesk/cmd/internal/support"
	v1 "tripdesk/shared/contracts/support/v1"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultMaxBodyBytes = 16 << 10
	maxContentRunes     = 4000
)

// Config tunes handler behavior. The zero value is usable.
type Config struct {
	// MaxBodyBytes bounds request bodies. Zero means 16 KiB.
	MaxBodyBytes int64

	// MessageLimit / MessageWindow bound per-sender message appends.
	// Zero values disable the limiter.
	MessageLimit  int
	MessageWindow time.Duration

	// Stats bounds the avg-response-time sample set on GET /stats.
	Stats stats.Config
}

// Handler serves the room lifecycle and message REST endpoints.
type Handler struct {
	log   *slog.Logger
	store support.RoomStore
	coord *support.Coordinator
	bus   *realtime.Broadcaster
	cfg   Config

	roomsCreated     prometheus.Counter
	messagesAppended prometheus.Counter

	limitMu  sync.Mutex
	limiters map[string]*realtime.RateLimiter
}

// Option configures optional Handler dependencies.
type Option func(*Handler)

// WithAPIMetrics records room creations and message appends.
func WithAPIMetrics(roomsCreated, messagesAppended prometheus.Counter) Option {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.roomsCreated = roomsCreated
		h.messagesAppended = messagesAppended
	}
}

// NewHandler constructs the REST handler.
func NewHandler(log *slog.Logger, store support.RoomStore, coord *support.Coordinator, bus *realtime.Broadcaster, cfg Config, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	h := &Handler{
		log:      log,
		store:    store,
		coord:    coord,
		bus:      bus,
		cfg:      cfg,
		limiters: make(map[string]*realtime.RateLimiter),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rooms", h.handleCreateRoom)
	mux.HandleFunc("GET /rooms", h.handleListRooms)
	mux.HandleFunc("GET /rooms/{id}", h.handleGetRoom)
	mux.HandleFunc("POST /rooms/{id}/accept", h.handleAcceptRoom)
	mux.HandleFunc("POST /rooms/{id}/close", h.handleCloseRoom)
	mux.HandleFunc("POST /rooms/{id}/rate", h.handleRateRoom)
	mux.HandleFunc("POST /rooms/{id}/messages", h.handleAppendMessage)
	mux.HandleFunc("GET /rooms/{id}/messages", h.handleListMessages)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /agent-rating/{agentId}", h.handleAgentRating)
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	room, err := h.store.CreateRoom(r.Context(), support.CreateRoomInput{CustomerID: p.UserID})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.roomsCreated != nil {
		h.roomsCreated.Inc()
	}
	h.log.Info("room.created", "room_id", room.ID, "customer_id", room.CustomerID)
	h.broadcastRoom(r.Context(), v1.TypeRoomCreated, room)

	writeJSON(w, http.StatusCreated, toRoomResponse(room))
}

func (h *Handler) handleListRooms(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAgent(w, r); !ok {
		return
	}

	filter, ok := support.ParseStateFilter(r.URL.Query().Get("status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown status filter")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rooms, err := h.store.ListRooms(r.Context(), support.ListRoomsInput{Filter: filter, Limit: limit})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	out := listRoomsResponse{Rooms: make([]roomResponse, 0, len(rooms))}
	for _, room := range rooms {
		out.Rooms = append(out.Rooms, toRoomResponse(room))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	room, err := h.store.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !h.mayViewRoom(p, room) {
		writeError(w, http.StatusForbidden, "forbidden", "not a participant of this room")
		return
	}

	writeJSON(w, http.StatusOK, toRoomResponse(room))
}

func (h *Handler) handleAcceptRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAgent(w, r)
	if !ok {
		return
	}

	room, err := h.coord.Claim(r.Context(), support.ClaimRoomInput{
		RoomID:  r.PathValue("id"),
		AgentID: p.UserID,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.broadcastRoom(r.Context(), v1.TypeRoomUpdated, room)
	writeJSON(w, http.StatusOK, toRoomResponse(room))
}

func (h *Handler) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")
	if !p.IsAgent() {
		room, err := h.store.GetRoom(r.Context(), roomID)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		if room.CustomerID != p.UserID {
			writeError(w, http.StatusForbidden, "forbidden", "not a participant of this room")
			return
		}
	}

	res, err := h.store.CloseRoom(r.Context(), support.CloseRoomInput{
		RoomID:  roomID,
		ActorID: p.UserID,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if res.Changed {
		h.log.Info("room.closed", "room_id", res.Room.ID, "actor_id", p.UserID)
		h.broadcastRoom(r.Context(), v1.TypeRoomUpdated, res.Room)
	}
	writeJSON(w, http.StatusOK, toRoomResponse(res.Room))
}

func (h *Handler) handleRateRoom(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	// Only the customer who owned the conversation can rate it.
	if room.CustomerID != p.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "only the room's customer may rate it")
		return
	}

	var req rateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}

	rated, err := h.store.RateRoom(r.Context(), support.RateRoomInput{
		RoomID: roomID,
		Score:  req.Score,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	h.log.Info("room.rated", "room_id", rated.ID, "score", req.Score)
	h.broadcastRoom(r.Context(), v1.TypeRoomUpdated, rated)
	writeJSON(w, http.StatusOK, toRoomResponse(rated))
}

func (h *Handler) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !h.mayViewRoom(p, room) {
		writeError(w, http.StatusForbidden, "forbidden", "not a participant of this room")
		return
	}

	if !h.allowSender(p.UserID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "message rate limit exceeded")
		return
	}

	var req appendMessageRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "malformed JSON body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" || utf8.RuneCountInString(content) > maxContentRunes {
		writeError(w, http.StatusBadRequest, "invalid_input", "content must be 1-4000 characters")
		return
	}

	msg, err := h.store.AppendMessage(r.Context(), support.AppendMessageInput{
		RoomID:     roomID,
		SenderID:   p.UserID,
		SenderRole: senderRoleFor(p),
		Content:    content,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.messagesAppended != nil {
		h.messagesAppended.Inc()
	}
	h.broadcastMessage(r.Context(), msg)
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	roomID := r.PathValue("id")

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !h.mayViewRoom(p, room) {
		writeError(w, http.StatusForbidden, "forbidden", "not a participant of this room")
		return
	}

	in := support.ListMessagesInput{RoomID: roomID}
	q := r.URL.Query()
	if raw := q.Get("after_seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "after_seq must be a non-negative integer")
			return
		}
		in.AfterSeq = &n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		in.Limit = n
	}

	res, err := h.store.ListMessages(r.Context(), in)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	out := listMessagesResponse{
		Messages: make([]messageResponse, 0, len(res.Messages)),
		HasMore:  res.HasMore,
	}
	for _, m := range res.Messages {
		out.Messages = append(out.Messages, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAgent(w, r); !ok {
		return
	}

	rooms, err := h.store.SnapshotRooms(r.Context())
	if err != nil {
		// No fabricated counts: a stats read that cannot see the store fails.
		h.writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats.Compute(rooms, time.Now(), h.cfg.Stats))
}

func (h *Handler) handleAgentRating(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAgent(w, r); !ok {
		return
	}

	agentID := strings.TrimSpace(r.PathValue("agentId"))
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "missing agent id")
		return
	}

	rooms, err := h.store.SnapshotRooms(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats.AgentSummary(rooms, agentID))
}

// mayViewRoom gates per-room reads and writes: agents see everything, a
// customer only their own rooms.
func (h *Handler) mayViewRoom(p Principal, room support.Room) bool {
	if p.IsAgent() {
		return true
	}
	return room.CustomerID == p.UserID
}

func senderRoleFor(p Principal) support.SenderRole {
	if p.IsAgent() {
		return support.RoleAgent
	}
	return support.RoleCustomer
}

func (h *Handler) allowSender(senderID string, now time.Time) bool {
	if h.cfg.MessageLimit <= 0 || h.cfg.MessageWindow <= 0 {
		return true
	}

	h.limitMu.Lock()
	lim, ok := h.limiters[senderID]
	if !ok {
		lim = realtime.NewRateLimiter(h.cfg.MessageLimit, h.cfg.MessageWindow)
		h.limiters[senderID] = lim
	}
	h.limitMu.Unlock()

	return lim.Allow(now)
}

func (h *Handler) broadcastRoom(ctx context.Context, typ string, room support.Room) {
	if h.bus == nil {
		return
	}
	env, err := realtime.NewEnvelope(typ, v1.RoomPayload{
		RoomID:     room.ID,
		CustomerID: room.CustomerID,
		AgentID:    room.AgentID,
		State:      string(room.State),
		CreatedAt:  room.CreatedAt,
		AcceptedAt: room.AcceptedAt,
		ClosedAt:   room.ClosedAt,
		Rating:     room.Rating,
	}, time.Now().UTC())
	if err != nil {
		h.log.Error("broadcast.encode.fail", "type", typ, "err", err)
		return
	}
	h.bus.Publish(ctx, env)
}

func (h *Handler) broadcastMessage(ctx context.Context, msg support.Message) {
	if h.bus == nil {
		return
	}
	env, err := realtime.NewEnvelope(v1.TypeMessageAppended, v1.MessagePayload{
		RoomID:     msg.RoomID,
		Seq:        msg.Seq,
		SenderID:   msg.SenderID,
		SenderRole: string(msg.SenderRole),
		Content:    msg.Content,
		CreatedAt:  msg.CreatedAt,
	}, time.Now().UTC())
	if err != nil {
		h.log.Error("broadcast.encode.fail", "type", v1.TypeMessageAppended, "err", err)
		return
	}
	h.bus.Publish(ctx, env)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case support.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request")
	case support.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "room not found")
	case support.IsAlreadyClaimed(err):
		writeError(w, http.StatusConflict, "already_claimed", "room was claimed by another agent")
	case support.IsInvalidState(err):
		writeError(w, http.StatusConflict, "invalid_state", "operation not valid in the room's current state")
	case support.IsRoomClosed(err):
		writeError(w, http.StatusGone, "room_closed", "room is closed")
	default:
		h.log.Error("http.store.fail", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
