// Package realtime contains tripdesk's dashboard event fan-out and the
// WebSocket gateway that serves the push-only event stream.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	v1 "tripdesk/shared/contracts/support/v1"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Relay forwards envelopes to an external broker for other dashboard
// instances. Delivery is best-effort; failures are logged, never propagated.
type Relay interface {
	Publish(ctx context.Context, env v1.Envelope) error
}

// Broadcaster fans out room/message events to connected subscribers.
//
// Concurrency guarantees:
// - Attach/Detach are safe under concurrent Publish.
// - Publish never blocks (drops under backpressure).
// - Publish is panic-safe because Subscriber.Send is never closed by the server.
//
// The broadcaster never buffers for offline subscribers: correctness rests on
// REST reads being authoritative, events are a performance optimization.
type Broadcaster struct {
	log   *slog.Logger
	relay Relay

	connected prometheus.Gauge
	dropped   prometheus.Counter

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// BroadcasterOption configures optional Broadcaster dependencies.
type BroadcasterOption func(*Broadcaster)

// WithRelay forwards every published envelope to an external broker.
func WithRelay(r Relay) BroadcasterOption {
	return func(b *Broadcaster) {
		if b == nil || r == nil {
			return
		}
		b.relay = r
	}
}

// WithFanoutMetrics records the connected-subscriber gauge and drop counter.
func WithFanoutMetrics(connected prometheus.Gauge, dropped prometheus.Counter) BroadcasterOption {
	return func(b *Broadcaster) {
		if b == nil {
			return
		}
		b.connected = connected
		b.dropped = dropped
	}
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(log *slog.Logger, opts ...BroadcasterOption) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	b := &Broadcaster{
		log:  log,
		subs: make(map[string]*Subscriber),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(b)
	}
	return b
}

// Attach adds a subscriber to the fan-out set.
func (b *Broadcaster) Attach(sub *Subscriber) {
	if b == nil || sub == nil || sub.ID == "" {
		return
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	n := len(b.subs)
	b.mu.Unlock()

	if b.connected != nil {
		b.connected.Set(float64(n))
	}
	b.log.Info("broadcast.subscriber.attach", "subscriber_id", sub.ID, "connected", n)
}

// Detach removes a subscriber and signals shutdown for it.
func (b *Broadcaster) Detach(subID string) {
	if b == nil || subID == "" {
		return
	}

	var sub *Subscriber

	b.mu.Lock()
	sub = b.subs[subID]
	delete(b.subs, subID)
	n := len(b.subs)
	b.mu.Unlock()

	// Signal shutdown after removing from the fan-out set. This ordering
	// avoids race windows where a publisher still holds a pointer while the
	// connection goroutines are being torn down.
	if sub != nil {
		sub.Close()
	}

	if b.connected != nil {
		b.connected.Set(float64(n))
	}
	b.log.Info("broadcast.subscriber.detach", "subscriber_id", subID, "connected", n)
}

// Publish fans out an envelope to all subscribers, at most once per connection.
// Non-blocking: if a subscriber queue is full or the subscriber is shutting
// down, the event is dropped for that connection.
func (b *Broadcaster) Publish(ctx context.Context, env v1.Envelope) {
	if b == nil {
		return
	}

	b.mu.RLock()
	for _, sub := range b.subs {
		if sub == nil {
			continue
		}

		select {
		case <-sub.Done():
			// Skip subscribers that are shutting down.
			continue
		default:
		}

		select {
		case sub.Send <- env:
		default:
			// Drop rather than block the whole fan-out.
			if b.dropped != nil {
				b.dropped.Inc()
			}
		}
	}
	b.mu.RUnlock()

	if b.relay != nil {
		if err := b.relay.Publish(ctx, env); err != nil {
			b.log.Error("broadcast.relay.fail", "type", env.Type, "err", err)
		}
	}
}

// NewEnvelope builds a versioned event envelope around payload.
func NewEnvelope(typ string, payload any, ts time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: raw,
	}, nil
}
