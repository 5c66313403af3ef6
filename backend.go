package carrier

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Backend is the single connection to one service. Requests are written to
// it by its outbox; its read loop routes responses back to frontends.
type Backend struct {
	Service uint16
	Host    string
	Port    string
	gw      *Gateway
	id      uint64
	out     *outbox
	state   stateVar

	mu          sync.Mutex // protects those below
	conn        FrameConn
	lastError   error
	connectedAt time.Time
}

func (gw *Gateway) newBackend(entry ServiceEntry) *Backend {
	be := &Backend{
		Service: entry.ID,
		Host:    entry.Host,
		Port:    entry.Port,
		gw:      gw,
		id:      gw.newID(),
	}
	be.state.set(stateConnecting)
	be.out = newOutbox(be.write, func(err error) { be.fail("write", err) })
	return be
}

func (be *Backend) String() string {
	return fmt.Sprintf("[Backend %d %s %v]", be.Service, be.Addr(), be.state.get())
}

// Addr returns the host:port the Backend dials.
func (be *Backend) Addr() string {
	return net.JoinHostPort(be.Host, be.Port)
}

// LastError returns the most recent connection error, or nil.
func (be *Backend) LastError() error {
	be.mu.Lock()
	defer be.mu.Unlock()
	return be.lastError
}

// ConnectedAt returns when the connection was established, or the zero time.
func (be *Backend) ConnectedAt() time.Time {
	be.mu.Lock()
	defer be.mu.Unlock()
	return be.connectedAt
}

// connect dials the service, completes the handshake and registers the
// Backend for its service.
func (be *Backend) connect(ctx context.Context) error {
	if !be.gw.trackBackend(be, true) {
		be.state.closing()
		return errors.WithStack(ErrServerClosed)
	}
	d := be.gw.newDialer()
	op := "connect"
	conn, err := d.dial(ctx, be.Host, be.Port)
	if err == nil {
		if !be.setConn(conn) {
			conn.Close()
			be.gw.trackBackend(be, false)
			return errors.WithStack(ErrServerClosed)
		}
		op = "handshake"
		be.state.set(stateHandshake)
		hctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
		err = conn.Handshake(hctx)
		cancel()
	}
	if err != nil {
		be.fail(op, err)
		be.gw.trackBackend(be, false)
		return transportError(op, err)
	}
	be.mu.Lock()
	be.connectedAt = time.Now()
	be.mu.Unlock()
	be.state.set(stateAwaitFrame)
	be.gw.registry.Register(be.Service, be)
	be.gw.gauge(MetricBackendUp, 1, serviceLabel(be.Service))
	be.gw.logger().Info("backend connected",
		zap.Uint16("service", be.Service),
		zap.String("addr", be.Addr()),
		zap.Stringer("transport", d.transport),
	)
	return nil
}

func (be *Backend) setConn(conn FrameConn) bool {
	be.mu.Lock()
	defer be.mu.Unlock()
	if be.state.get() == stateClosed {
		return false
	}
	be.conn = conn
	return true
}

// serve runs the read loop until the connection ends, then unregisters
// the Backend.
func (be *Backend) serve() {
	defer be.finish()
	for {
		be.state.set(stateAwaitFrame)
		fd := FrameDataAlloc()
		if err := be.conn.ReadFrame(&fd); err != nil {
			FrameDataFree(fd)
			be.fail("read", err)
			return
		}
		be.gw.AddBytesRead(int64(len(fd)))
		be.state.set(stateRouting)
		hdr := fd.Header()
		if err := DecodePayload(hdr.Type(), fd.Payload()); err != nil {
			be.gw.logger().Info("closing backend on malformed payload",
				zap.Uint16("service", be.Service),
				zap.Stringer("type", hdr.Type()),
				zap.Uint32("seq", hdr.Seq()),
			)
			FrameDataFree(fd)
			be.fail("decode", err)
			return
		}
		be.gw.deliver(be, fd)
	}
}

func (be *Backend) finish() {
	be.Close()
	be.gw.backendLost(be)
	be.out.wait()
	be.gw.logger().Info("backend disconnected",
		zap.Uint16("service", be.Service),
		zap.String("addr", be.Addr()),
	)
}

// submit queues fd for writing to the service, taking ownership of it.
// It returns false if the Backend is closed.
func (be *Backend) submit(fd FrameData) bool {
	return be.out.submit(fd)
}

func (be *Backend) write(fd FrameData) error {
	if err := be.conn.WriteFrame(fd); err != nil {
		return err
	}
	be.gw.AddBytesWritten(int64(len(fd)))
	return nil
}

// fail records err from operation op and closes the Backend.
// Orderly ends of stream are recorded but not reported.
func (be *Backend) fail(op string, err error) {
	if be.state.get() != stateClosed {
		be.mu.Lock()
		be.lastError = transportError(op, err)
		be.mu.Unlock()
		if !isClosedError(err) {
			be.gw.incr(MetricConnErrorCount, 1, LabelRole.M(roleBackend), LabelOp.M(op), serviceLabel(be.Service))
			be.gw.logger().Warn("backend connection error",
				LabelRole.L(roleBackend),
				LabelOp.L(op),
				zap.Uint16("service", be.Service),
				zap.String("addr", be.Addr()),
				zap.Error(err),
			)
		}
	}
	be.Close()
}

// Close closes the connection. The Backend is unregistered by its read loop.
func (be *Backend) Close() (err error) {
	if be.state.closing() {
		be.out.close()
		be.mu.Lock()
		conn := be.conn
		be.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	}
	return
}
