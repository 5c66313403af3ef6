package carrier

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn carries one frame per binary WebSocket message.
type wsConn struct {
	ws         *websocket.Conn
	maxPayload int
}

func newWSConn(ws *websocket.Conn, maxPayload int) *wsConn {
	ws.SetReadLimit(int64(FrameHeaderSize + maxPayload))
	return &wsConn{ws: ws, maxPayload: maxPayload}
}

// Handshake is a no-op, the upgrade completed before the wsConn existed.
func (wc *wsConn) Handshake(ctx context.Context) error { return nil }

func (wc *wsConn) ReadFrame(fd *FrameData) error {
	mt, r, err := wc.ws.NextReader()
	if err != nil {
		return err
	}
	if mt != websocket.BinaryMessage {
		return errors.WithStack(ErrUnexpectedMessage)
	}
	if _, err = fd.readFrame(r, wc.maxPayload); err != nil {
		if errors.Cause(err) == io.EOF || errors.Cause(err) == io.ErrUnexpectedEOF {
			// the message ended early, the stream itself is fine
			return errors.Wrap(ErrMalformedHeader, "short websocket message")
		}
		return err
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return errors.Wrap(ErrMalformedHeader, "websocket message longer than its frame")
	}
	return nil
}

func (wc *wsConn) WriteFrame(fd FrameData) error {
	if len(fd) < FrameHeaderSize {
		return errors.WithStack(ErrMalformedHeader)
	}
	fd.Header().SetLength(uint32(len(fd) - FrameHeaderSize))
	return wc.ws.WriteMessage(websocket.BinaryMessage, fd)
}

func (wc *wsConn) Close() error {
	_ = wc.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return wc.ws.Close()
}

func (wc *wsConn) RemoteAddr() net.Addr {
	return wc.ws.RemoteAddr()
}

func isWebSocketClose(err error) bool {
	return err == websocket.ErrCloseSent ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure)
}

func (d *dialer) dialWebSocket(ctx context.Context, host, port string) (FrameConn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, port),
		Path:   d.wsPath,
	}
	if u.Path == "" {
		u.Path = DefaultWebSocketPath
	}
	wd := websocket.Dialer{
		NetDialContext:   (&net.Dialer{Timeout: d.dialTimeout, KeepAlive: 3 * time.Minute}).DialContext,
		HandshakeTimeout: d.handshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	if d.transport.Secure() {
		u.Scheme = "wss"
		wd.TLSClientConfig = clientTLSConfig(d.tlsConfig, host)
	}
	ws, resp, err := wd.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return newWSConn(ws, d.maxPayload), nil
}

// WebSocketHandler returns an http.Handler that upgrades GET requests on
// Gateway.WebSocketPath and serves each upgraded connection as a frontend.
func (gw *Gateway) WebSocketHandler() http.Handler {
	path := gw.WebSocketPath
	if path == "" {
		path = DefaultWebSocketPath
	}
	router := httprouter.New()
	router.GET(path, gw.serveWebSocket)
	return router
}

func (gw *Gateway) serveWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		gw.logger().Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	fe := gw.newFrontend(newWSConn(ws, gw.maxPayload()))
	fe.serve(r.Context())
}
