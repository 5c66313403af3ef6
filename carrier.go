package carrier

import "time"

const (
	// FrameHeaderSize is the number of bytes in a frame header.
	FrameHeaderSize = 2 + 1 + 1 + 4 + 1 + 1 + 2 + 2 + 2 + 4 + 4
	// DefaultMaxPayloadSize is the largest payload accepted unless
	// Gateway.MaxPayloadSize says otherwise.
	DefaultMaxPayloadSize = 16 * 1024 * 1024
	// DefaultDialTimeout is how long a backend waits for its service to accept.
	DefaultDialTimeout = time.Second * 10
	// DefaultHandshakeTimeout bounds TLS and WebSocket handshakes.
	DefaultHandshakeTimeout = time.Second * 10
	// DefaultWebSocketPath is where WebSocket clients are upgraded.
	DefaultWebSocketPath = "/"
)

// Error codes placed in the header of synthetic responses when
// Gateway.ErrorReplies is enabled.
const (
	ErrorCodeTimeout     = uint16(0xfffd)
	ErrorCodeBackendLost = uint16(0xfffe)
	ErrorCodeUnroutable  = uint16(0xffff)
)
