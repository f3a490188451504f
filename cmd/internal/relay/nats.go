package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "tripdesk/shared/contracts/support/v1"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const natsEnsureTimeout = 5 * time.Second

// NATSPublisher publishes envelopes to a JetStream stream.
// Subjects are <prefix>.<envelope type>, e.g. "tripdesk.events.room.created".
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	log    *slog.Logger
}

// NewNATSPublisher connects to NATS and ensures the stream exists.
func NewNATSPublisher(url, stream, prefix string, log *slog.Logger) (*NATSPublisher, error) {
	if url == "" || stream == "" || prefix == "" {
		return nil, errors.New("relay: nats url, stream and prefix are required")
	}
	if log == nil {
		log = slog.Default()
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("relay: connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("relay: jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), natsEnsureTimeout)
	defer cancel()

	if _, err := js.Stream(ctx, stream); err != nil {
		log.Info("relay.nats.stream.create", "stream", stream)
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        stream,
			Description: "tripdesk dashboard events",
			Subjects:    []string{prefix + ".>"},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("relay: create stream %q: %w", stream, err)
		}
	}

	return &NATSPublisher{nc: nc, js: js, prefix: prefix, log: log}, nil
}

// Publish sends one envelope to the type-scoped subject.
func (p *NATSPublisher) Publish(ctx context.Context, env v1.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	subject := p.prefix + "." + env.Type
	if _, err := p.js.Publish(ctx, subject, body); err != nil {
		return fmt.Errorf("relay: publish to %q: %w", subject, err)
	}
	p.log.Debug("relay.nats.published", "subject", subject, "id", env.ID)
	return nil
}

func (p *NATSPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}
