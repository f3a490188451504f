package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func validEnvelope() Envelope {
	return Envelope{
		V:       Version,
		Type:    TypeRoomCreated,
		ID:      "evt-1",
		TS:      time.Now().UTC(),
		Payload: json.RawMessage(`{"room_id":"r1"}`),
	}
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	if err := validEnvelope().Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{name: "wrong version", mutate: func(e *Envelope) { e.V = 99 }},
		{name: "missing type", mutate: func(e *Envelope) { e.Type = "" }},
		{name: "unknown type", mutate: func(e *Envelope) { e.Type = "room.exploded" }},
		{name: "missing id", mutate: func(e *Envelope) { e.ID = "" }},
		{name: "missing ts", mutate: func(e *Envelope) { e.TS = time.Time{} }},
		{name: "missing payload", mutate: func(e *Envelope) { e.Payload = nil }},
	}

	for _, tc := range cases {
		env := validEnvelope()
		tc.mutate(&env)
		if err := env.Validate(); err == nil {
			t.Fatalf("%s: Validate() passed", tc.name)
		}
	}
}
