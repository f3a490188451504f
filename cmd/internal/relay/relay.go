// Package relay forwards dashboard event envelopes to an external broker so
// other tripdesk instances (or downstream consumers) can observe them.
//
// Relays are strictly best-effort: the in-process broadcaster and the REST
// surface stay correct with no relay at all, so failures are logged by the
// caller and never surfaced to users.
package relay

import (
	"context"

	v1 "tripdesk/shared/contracts/support/v1"
)

// Publisher forwards envelopes to a broker.
type Publisher interface {
	Publish(ctx context.Context, env v1.Envelope) error
	Close() error
}

// Drivers accepted by the TRIPDESK_RELAY_DRIVER setting.
const (
	DriverNone = "none"
	DriverAMQP = "amqp"
	DriverNATS = "nats"
)
