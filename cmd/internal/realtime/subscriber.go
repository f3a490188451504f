package realtime

import (
	"sync"

	v1 "tripdesk/shared/contracts/support/v1"
)

// Subscriber represents one connected dashboard event-stream session.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
type Subscriber struct {
	ID   string
	Send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewSubscriber constructs a Subscriber with a bounded send queue.
func NewSubscriber(id string, sendQueueSize int) *Subscriber {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Subscriber{
		ID:   id,
		Send: make(chan v1.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Done returns a channel that is closed when the subscriber is shutting down.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals the subscriber goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (s *Subscriber) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
