// Package v1 defines the wire contract for the tripdesk dashboard event stream.
//
// The stream is push-only: the broker emits envelopes, clients never issue
// requests over it. Delivery is best-effort; clients reconcile authoritative
// state via the REST surface after any disconnect.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	Version = 1

	TypeRoomCreated     = "room.created"
	TypeRoomUpdated     = "room.updated"
	TypeMessageAppended = "message.appended"
	TypeError           = "error"
)

var AllowedTypes = map[string]struct{}{
	TypeRoomCreated:     {},
	TypeRoomUpdated:     {},
	TypeMessageAppended: {},
	TypeError:           {},
}

type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("invalid protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := AllowedTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.TS.IsZero() {
		return errors.New("missing ts")
	}
	if e.Payload == nil {
		return errors.New("missing payload")
	}
	return nil
}

// RoomPayload is carried by room.created and room.updated.
type RoomPayload struct {
	RoomID     string     `json:"room_id"`
	CustomerID string     `json:"customer_id"`
	AgentID    *string    `json:"agent_id,omitempty"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Rating     *int       `json:"rating,omitempty"`
}

// MessagePayload is carried by message.appended.
type MessagePayload struct {
	RoomID     string    `json:"room_id"`
	Seq        int64     `json:"seq"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
