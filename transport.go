package carrier

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Transport selects how frames are carried on a connection.
type Transport int

const (
	// TransportTCP carries frames back to back on a TCP byte stream.
	TransportTCP = Transport(iota)
	// TransportTLS is TransportTCP inside TLS.
	TransportTLS
	// TransportWebSocket carries one frame per binary WebSocket message.
	TransportWebSocket
	// TransportWebSocketTLS is TransportWebSocket over TLS (wss).
	TransportWebSocketTLS
)

var transportNames = map[Transport]string{
	TransportTCP:          "tcp",
	TransportTLS:          "tls",
	TransportWebSocket:    "ws",
	TransportWebSocketTLS: "wss",
}

func (tr Transport) String() string {
	if s, ok := transportNames[tr]; ok {
		return s
	}
	return "unknown"
}

// Secure returns true if the transport runs over TLS.
func (tr Transport) Secure() bool {
	return tr == TransportTLS || tr == TransportWebSocketTLS
}

// WebSocket returns true if frames travel as WebSocket messages.
func (tr Transport) WebSocket() bool {
	return tr == TransportWebSocket || tr == TransportWebSocketTLS
}

// ParseTransport returns the Transport named s ("tcp", "tls", "ws" or "wss").
func ParseTransport(s string) (Transport, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for tr, name := range transportNames {
		if name == s {
			return tr, nil
		}
	}
	return TransportTCP, errors.Errorf("carrier: unknown transport %q", s)
}

// FrameConn reads and writes whole frames. ReadFrame and WriteFrame may be
// called concurrently with each other, but never concurrently with themselves.
type FrameConn interface {
	// Handshake completes any security or upgrade handshake still pending.
	Handshake(ctx context.Context) error
	// ReadFrame replaces the contents of fd with the next frame.
	ReadFrame(fd *FrameData) error
	// WriteFrame writes fd, recomputing the header length field.
	WriteFrame(fd FrameData) error
	Close() error
	RemoteAddr() net.Addr
}

// streamConn carries frames on a byte stream, optionally TLS.
type streamConn struct {
	net.Conn
	br         *bufio.Reader
	maxPayload int
}

func newStreamConn(c net.Conn, maxPayload int) *streamConn {
	return &streamConn{
		Conn:       c,
		br:         bufio.NewReaderSize(c, 64*1024),
		maxPayload: maxPayload,
	}
}

func (sc *streamConn) Handshake(ctx context.Context) error {
	if tc, ok := sc.Conn.(*tls.Conn); ok {
		return tc.HandshakeContext(ctx)
	}
	return nil
}

func (sc *streamConn) ReadFrame(fd *FrameData) (err error) {
	_, err = fd.readFrame(sc.br, sc.maxPayload)
	return
}

func (sc *streamConn) WriteFrame(fd FrameData) (err error) {
	_, err = fd.WriteTo(sc.Conn)
	return
}

// dialer holds what a Backend needs to reach its service.
type dialer struct {
	transport        Transport
	tlsConfig        *tls.Config
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
	wsPath           string
	maxPayload       int
}

// dial connects to host:port. The returned FrameConn still needs Handshake
// when the transport is secured.
func (d *dialer) dial(ctx context.Context, host, port string) (FrameConn, error) {
	if d.transport.WebSocket() {
		return d.dialWebSocket(ctx, host, port)
	}
	nd := net.Dialer{Timeout: d.dialTimeout, KeepAlive: 3 * time.Minute}
	c, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	if d.transport.Secure() {
		c = tls.Client(c, clientTLSConfig(d.tlsConfig, host))
	}
	return newStreamConn(c, d.maxPayload), nil
}

// clientTLSConfig returns cfg with ServerName defaulted to host.
func clientTLSConfig(cfg *tls.Config, host string) *tls.Config {
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = host
	}
	return cfg
}
