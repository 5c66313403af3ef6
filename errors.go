package carrier

import (
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedHeader means fewer than FrameHeaderSize bytes were supplied.
	ErrMalformedHeader = errors.New("carrier: malformed header")
	// ErrMalformedPayload means the payload violates the format named by the header type.
	ErrMalformedPayload = errors.New("carrier: malformed payload")
	// ErrFrameTooBig means a header announced more than the allowed payload size.
	ErrFrameTooBig = errors.New("carrier: frame too big")
	// ErrServerClosed is returned by Serve and friends after Close.
	ErrServerClosed = errors.New("carrier: server closed")
	// ErrUnexpectedMessage means a WebSocket peer sent a non-binary message.
	ErrUnexpectedMessage = errors.New("carrier: unexpected websocket message type")
	// ErrNoTLSConfig means a secured transport was selected without TLS material.
	ErrNoTLSConfig = errors.New("carrier: TLSConfig is required for secured transports")
)

// TransportError wraps a connect, read, write, handshake or accept failure
// with the name of the failing operation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Cause returns the underlying error, for errors.Cause.
func (e *TransportError) Cause() error { return e.Err }

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&TransportError{Op: op, Err: err})
}

// isClosedError returns true if err signals an orderly end of stream
// rather than a failure worth logging. A stream cut inside a frame
// (io.ErrUnexpectedEOF) is not orderly.
func isClosedError(err error) bool {
	switch errors.Cause(err) {
	case nil:
		return false
	case io.EOF, io.ErrClosedPipe, net.ErrClosed, ErrServerClosed:
		return true
	}
	// net.OpError has no Cause method
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return isWebSocketClose(errors.Cause(err))
}
