package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	v1 "tripdesk/shared/contracts/support/v1"
)

func testEnvelope(t *testing.T) v1.Envelope {
	t.Helper()

	env, err := NewEnvelope(v1.TypeRoomCreated, v1.RoomPayload{
		RoomID: "room-1", CustomerID: "cust-1", State: "waiting", CreatedAt: time.Now().UTC(),
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestNewEnvelope_Valid(t *testing.T) {
	t.Parallel()

	env := testEnvelope(t)
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var payload v1.RoomPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RoomID != "room-1" {
		t.Fatalf("room_id=%q want room-1", payload.RoomID)
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	s1 := NewSubscriber("sub-1", 4)
	s2 := NewSubscriber("sub-2", 4)
	b.Attach(s1)
	b.Attach(s2)

	env := testEnvelope(t)
	b.Publish(context.Background(), env)

	for _, sub := range []*Subscriber{s1, s2} {
		select {
		case got := <-sub.Send:
			if got.ID != env.ID {
				t.Fatalf("%s got id=%q want %q", sub.ID, got.ID, env.ID)
			}
		default:
			t.Fatalf("%s received nothing", sub.ID)
		}
	}
}

func TestBroadcaster_DropsOnFullQueue(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	slow := NewSubscriber("slow", 1)
	b.Attach(slow)

	// The second publish must not block even though the queue is full.
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish(context.Background(), testEnvelope(t))
		b.Publish(context.Background(), testEnvelope(t))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}

	if got := len(slow.Send); got != 1 {
		t.Fatalf("queued=%d want 1", got)
	}
}

func TestBroadcaster_SkipsClosedSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	sub := NewSubscriber("gone", 4)
	b.Attach(sub)
	sub.Close()

	b.Publish(context.Background(), testEnvelope(t))
	if got := len(sub.Send); got != 0 {
		t.Fatalf("closed subscriber got %d events", got)
	}
}

func TestBroadcaster_DetachClosesSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	sub := NewSubscriber("sub-1", 4)
	b.Attach(sub)
	b.Detach(sub.ID)

	select {
	case <-sub.Done():
	default:
		t.Fatal("detach did not signal subscriber shutdown")
	}

	// Detaching twice is harmless.
	b.Detach(sub.ID)
}

type captureRelay struct {
	envs []v1.Envelope
}

func (r *captureRelay) Publish(_ context.Context, env v1.Envelope) error {
	r.envs = append(r.envs, env)
	return nil
}

func TestBroadcaster_ForwardsToRelay(t *testing.T) {
	t.Parallel()

	relay := &captureRelay{}
	b := NewBroadcaster(nil, WithRelay(relay))

	env := testEnvelope(t)
	b.Publish(context.Background(), env)

	if len(relay.envs) != 1 || relay.envs[0].ID != env.ID {
		t.Fatalf("relay saw %d envelopes", len(relay.envs))
	}
}
