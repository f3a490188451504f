// Package main provides a CI-friendly smoke test for the tripdesk event stream.
//
// It validates:
//   - handshake + subprotocol selection on /ws
//   - room.created fanout after POST /rooms
//   - room.updated fanout after an agent accepts
//   - message.appended fanout after POST /rooms/{id}/messages
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	v1 "tripdesk/shared/contracts/support/v1"

	"github.com/coder/websocket"
)

const (
	subprotocol  = "tripdesk.events.v1"
	maxReadBytes = 1 << 20
)

func main() {
	baseURL := flag.String("base", "http://127.0.0.1:8080", "broker base URL")
	timeout := flag.Duration("timeout", 15*time.Second, "overall deadline")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, strings.TrimRight(*baseURL, "/")); err != nil {
		fmt.Fprintln(os.Stderr, "ws-smoke: FAIL:", err)
		os.Exit(1)
	}
	fmt.Println("ws-smoke: OK")
}

func run(ctx context.Context, base string) error {
	wsURL := strings.Replace(base, "http", "ws", 1) + "/ws"

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   http.Header{"Origin": []string{"http://localhost"}},
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
	if conn.Subprotocol() != subprotocol {
		return errors.New("server did not select the events subprotocol")
	}
	conn.SetReadLimit(maxReadBytes)

	inbox := make(chan v1.Envelope, 32)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				readErr <- fmt.Errorf("bad envelope: %w", err)
				return
			}
			inbox <- env
		}
	}()

	// Customer opens a room.
	var room v1.RoomPayload
	if err := call(ctx, base, "POST", "/rooms", "smoke-customer", "customer", nil, &roomBody{&room}); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if err := await(ctx, inbox, readErr, v1.TypeRoomCreated); err != nil {
		return err
	}

	// Agent accepts it.
	if err := call(ctx, base, "POST", "/rooms/"+room.RoomID+"/accept", "smoke-agent", "agent", nil, nil); err != nil {
		return fmt.Errorf("accept room: %w", err)
	}
	if err := await(ctx, inbox, readErr, v1.TypeRoomUpdated); err != nil {
		return err
	}

	// Customer sends a message.
	body := []byte(`{"content":"smoke test message"}`)
	if err := call(ctx, base, "POST", "/rooms/"+room.RoomID+"/messages", "smoke-customer", "customer", body, nil); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return await(ctx, inbox, readErr, v1.TypeMessageAppended)
}

// roomBody adapts the REST room response to the event payload shape; the two
// use identical JSON field names except the id key.
type roomBody struct{ room *v1.RoomPayload }

func (b *roomBody) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.room.RoomID = raw.ID
	return nil
}

func call(ctx context.Context, base, method, path, userID, role string, body []byte, out json.Unmarshaler) error {
	req, err := http.NewRequestWithContext(ctx, method, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("X-User-Role", role)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, data)
	}
	if out != nil {
		return out.UnmarshalJSON(data)
	}
	return nil
}

func await(ctx context.Context, inbox <-chan v1.Envelope, readErr <-chan error, wantType string) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s", wantType)
		case err := <-readErr:
			return fmt.Errorf("stream closed waiting for %s: %w", wantType, err)
		case env := <-inbox:
			if err := env.Validate(); err != nil {
				return fmt.Errorf("invalid envelope: %w", err)
			}
			if env.Type == wantType {
				return nil
			}
		}
	}
}
