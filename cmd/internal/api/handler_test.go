package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tripdesk/cmd/internal/realtime"
	"tripdesk/cmd/internal/support"
)

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *support.MemoryStore) {
	t.Helper()

	store := support.NewMemoryStore()
	coord := support.NewCoordinator(nil, store)
	bus := realtime.NewBroadcaster(nil)

	h := NewHandler(nil, store, coord, bus, cfg)
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func doReq(t *testing.T, srv *httptest.Server, method, path, userID, role, body string) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-User-Role", role)
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeRoom(t *testing.T, data []byte) roomResponse {
	t.Helper()

	var room roomResponse
	if err := json.Unmarshal(data, &room); err != nil {
		t.Fatalf("decode room: %v (%s)", err, data)
	}
	return room
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()

	var er errorResponse
	if err := json.Unmarshal(data, &er); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, data)
	}
	return er.Error.Code
}

func createRoom(t *testing.T, srv *httptest.Server, customerID string) roomResponse {
	t.Helper()

	resp, data := doReq(t, srv, "POST", "/rooms", customerID, "customer", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create room: status=%d body=%s", resp.StatusCode, data)
	}
	return decodeRoom(t, data)
}

func TestHandler_RequiresPrincipal(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})

	resp, data := doReq(t, srv, "POST", "/rooms", "", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d want=401", resp.StatusCode)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code=%q want=unauthorized", code)
	}
}

func TestHandler_CreateAndGetRoom(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	room := createRoom(t, srv, "cust-1")

	if room.State != "waiting" || room.CustomerID != "cust-1" || room.ID == "" {
		t.Fatalf("room=%+v", room)
	}

	resp, data := doReq(t, srv, "GET", "/rooms/"+room.ID, "cust-1", "customer", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status=%d body=%s", resp.StatusCode, data)
	}

	// Another customer cannot see it.
	resp, _ = doReq(t, srv, "GET", "/rooms/"+room.ID, "cust-2", "customer", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger get: status=%d want=403", resp.StatusCode)
	}

	resp, data = doReq(t, srv, "GET", "/rooms/nope", "cust-1", "customer", "")
	if resp.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("missing room: status=%d body=%s", resp.StatusCode, data)
	}
}

func TestHandler_ListRoomsAgentOnly(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	createRoom(t, srv, "cust-1")

	resp, _ := doReq(t, srv, "GET", "/rooms", "cust-1", "customer", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("customer list: status=%d want=403", resp.StatusCode)
	}

	resp, data := doReq(t, srv, "GET", "/rooms?status=waiting", "agent-1", "agent", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("agent list: status=%d body=%s", resp.StatusCode, data)
	}
	var list listRoomsResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Rooms) != 1 {
		t.Fatalf("rooms=%d want=1", len(list.Rooms))
	}

	resp, data = doReq(t, srv, "GET", "/rooms?status=bogus", "agent-1", "agent", "")
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, data) != "invalid_input" {
		t.Fatalf("bogus filter: status=%d body=%s", resp.StatusCode, data)
	}
}

func TestHandler_AcceptConflicts(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	room := createRoom(t, srv, "cust-1")

	// Customers cannot work the queue.
	resp, _ := doReq(t, srv, "POST", "/rooms/"+room.ID+"/accept", "cust-1", "customer", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("customer accept: status=%d want=403", resp.StatusCode)
	}

	resp, data := doReq(t, srv, "POST", "/rooms/"+room.ID+"/accept", "agent-1", "agent", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept: status=%d body=%s", resp.StatusCode, data)
	}
	got := decodeRoom(t, data)
	if got.State != "active" || got.AgentID == nil || *got.AgentID != "agent-1" {
		t.Fatalf("accepted room=%+v", got)
	}

	resp, data = doReq(t, srv, "POST", "/rooms/"+room.ID+"/accept", "agent-2", "agent", "")
	if resp.StatusCode != http.StatusConflict || errorCode(t, data) != "already_claimed" {
		t.Fatalf("second accept: status=%d body=%s", resp.StatusCode, data)
	}
}

func TestHandler_CloseIdempotent(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	room := createRoom(t, srv, "cust-1")

	for i := 0; i < 2; i++ {
		resp, data := doReq(t, srv, "POST", "/rooms/"+room.ID+"/close", "cust-1", "customer", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("close %d: status=%d body=%s", i, resp.StatusCode, data)
		}
		if got := decodeRoom(t, data); got.State != "closed" {
			t.Fatalf("close %d: state=%q", i, got.State)
		}
	}

	// A stranger may not close someone else's room.
	other := createRoom(t, srv, "cust-2")
	resp, _ := doReq(t, srv, "POST", "/rooms/"+other.ID+"/close", "cust-1", "customer", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger close: status=%d want=403", resp.StatusCode)
	}
}

func TestHandler_RateFlow(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	room := createRoom(t, srv, "cust-1")

	doReq(t, srv, "POST", "/rooms/"+room.ID+"/accept", "agent-1", "agent", "")

	// Rating an active room is a state conflict.
	resp, data := doReq(t, srv, "POST", "/rooms/"+room.ID+"/rate", "cust-1", "customer", `{"score":5}`)
	if resp.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_state" {
		t.Fatalf("rate active: status=%d body=%s", resp.StatusCode, data)
	}

	doReq(t, srv, "POST", "/rooms/"+room.ID+"/close", "agent-1", "agent", "")

	// Only the owning customer can rate.
	resp, _ = doReq(t, srv, "POST", "/rooms/"+room.ID+"/rate", "cust-2", "customer", `{"score":5}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger rate: status=%d want=403", resp.StatusCode)
	}

	resp, data = doReq(t, srv, "POST", "/rooms/"+room.ID+"/rate", "cust-1", "customer", `{"score":9}`)
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, data) != "invalid_input" {
		t.Fatalf("out-of-range score: status=%d body=%s", resp.StatusCode, data)
	}

	resp, data = doReq(t, srv, "POST", "/rooms/"+room.ID+"/rate", "cust-1", "customer", `{"score":4}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rate: status=%d body=%s", resp.StatusCode, data)
	}
	if got := decodeRoom(t, data); got.Rating == nil || *got.Rating != 4 {
		t.Fatalf("rated room=%+v", got)
	}

	// One-shot.
	resp, data = doReq(t, srv, "POST", "/rooms/"+room.ID+"/rate", "cust-1", "customer", `{"score":1}`)
	if resp.StatusCode != http.StatusConflict || errorCode(t, data) != "invalid_state" {
		t.Fatalf("second rate: status=%d body=%s", resp.StatusCode, data)
	}

	// The rating shows up in the agent summary.
	resp, data = doReq(t, srv, "GET", "/agent-rating/agent-1", "agent-1", "agent", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("agent-rating: status=%d body=%s", resp.StatusCode, data)
	}
	var sum struct {
		AgentID       string  `json:"agent_id"`
		AverageRating float64 `json:"average_rating"`
		TotalRatings  int     `json:"total_ratings"`
	}
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.TotalRatings != 1 || sum.AverageRating != 4 {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestHandler_MessagesLifecycle(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	room := createRoom(t, srv, "cust-1")

	resp, data := doReq(t, srv, "POST", "/rooms/"+room.ID+"/messages", "cust-1", "customer", `{"content":"hello"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("append: status=%d body=%s", resp.StatusCode, data)
	}
	var msg messageResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Seq != 1 || msg.SenderRole != "customer" {
		t.Fatalf("message=%+v", msg)
	}

	// Oversized content is rejected.
	long := `{"content":"` + strings.Repeat("x", 4001) + `"}`
	resp, data = doReq(t, srv, "POST", "/rooms/"+room.ID+"/messages", "cust-1", "customer", long)
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, data) != "invalid_input" {
		t.Fatalf("oversized content: status=%d body=%s", resp.StatusCode, data)
	}

	doReq(t, srv, "POST", "/rooms/"+room.ID+"/close", "cust-1", "customer", "")

	resp, data = doReq(t, srv, "POST", "/rooms/"+room.ID+"/messages", "cust-1", "customer", `{"content":"late"}`)
	if resp.StatusCode != http.StatusGone || errorCode(t, data) != "room_closed" {
		t.Fatalf("append after close: status=%d body=%s", resp.StatusCode, data)
	}

	// History stays readable after close.
	resp, data = doReq(t, srv, "GET", "/rooms/"+room.ID+"/messages", "cust-1", "customer", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list messages: status=%d body=%s", resp.StatusCode, data)
	}
	var list listMessagesResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Messages) != 1 || list.HasMore {
		t.Fatalf("list=%+v", list)
	}
}

func TestHandler_MessageRateLimit(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{MessageLimit: 2, MessageWindow: time.Minute})
	room := createRoom(t, srv, "cust-1")

	for i := 0; i < 2; i++ {
		resp, data := doReq(t, srv, "POST", "/rooms/"+room.ID+"/messages", "cust-1", "customer", `{"content":"hi"}`)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("append %d: status=%d body=%s", i, resp.StatusCode, data)
		}
	}

	resp, data := doReq(t, srv, "POST", "/rooms/"+room.ID+"/messages", "cust-1", "customer", `{"content":"hi"}`)
	if resp.StatusCode != http.StatusTooManyRequests || errorCode(t, data) != "rate_limited" {
		t.Fatalf("limited append: status=%d body=%s", resp.StatusCode, data)
	}

	// The limit is per sender, not per room.
	resp, data = doReq(t, srv, "POST", "/rooms/"+room.ID+"/messages", "agent-1", "agent", `{"content":"hi"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("other sender: status=%d body=%s", resp.StatusCode, data)
	}
}

func TestHandler_Stats(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{})
	createRoom(t, srv, "cust-1")
	active := createRoom(t, srv, "cust-2")
	doReq(t, srv, "POST", "/rooms/"+active.ID+"/accept", "agent-1", "agent", "")

	resp, _ := doReq(t, srv, "GET", "/stats", "cust-1", "customer", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("customer stats: status=%d want=403", resp.StatusCode)
	}

	resp, data := doReq(t, srv, "GET", "/stats", "agent-1", "agent", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status=%d body=%s", resp.StatusCode, data)
	}
	var snap struct {
		Waiting int `json:"waiting"`
		Active  int `json:"active"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if snap.Waiting != 1 || snap.Active != 1 {
		t.Fatalf("stats=%+v want waiting=1 active=1", snap)
	}
}
