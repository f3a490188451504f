package api

import (
	"time"

	"tripdesk/cmd/internal/support"
)

type rateRequest struct {
	Score int `json:"score"`
}

type appendMessageRequest struct {
	Content string `json:"content"`
}

type roomResponse struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	AgentID    *string    `json:"agent_id,omitempty"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Rating     *int       `json:"rating,omitempty"`
}

type listRoomsResponse struct {
	Rooms []roomResponse `json:"rooms"`
}

type messageResponse struct {
	RoomID     string    `json:"room_id"`
	Seq        int64     `json:"seq"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

type listMessagesResponse struct {
	Messages []messageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

func toRoomResponse(r support.Room) roomResponse {
	return roomResponse{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		AgentID:    r.AgentID,
		State:      string(r.State),
		CreatedAt:  r.CreatedAt,
		AcceptedAt: r.AcceptedAt,
		ClosedAt:   r.ClosedAt,
		Rating:     r.Rating,
	}
}

func toMessageResponse(m support.Message) messageResponse {
	return messageResponse{
		RoomID:     m.RoomID,
		Seq:        m.Seq,
		SenderID:   m.SenderID,
		SenderRole: string(m.SenderRole),
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
}
