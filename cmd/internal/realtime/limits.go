package realtime

import "time"

// Security/performance limits for the event stream.
const (
	// Max bytes per websocket frame read (hard limit). The stream is
	// push-only, so inbound frames should be tiny.
	maxFrameBytes = 8 << 10 // 8 KiB
)

const (
	// Heartbeat defaults (overridable via GatewayConfig).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound frame budget. Clients have no reason to send
	// anything; this guards against floods on the read side.
	inboundLimitEvents = 30
	inboundLimitWindow = 10 * time.Second
)
