package carrier

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Frontend is one client connection. Its read loop routes each request to
// a backend; responses routed back to it are written by its outbox.
type Frontend struct {
	ID    ConnID
	gw    *Gateway
	conn  FrameConn
	out   *outbox
	state stateVar
	added bool // placed in the arena and counted in gw.wg
}

// newFrontend wraps conn and places it in the arena. If the Gateway is
// already closed the returned Frontend is closed too. The caller must
// run serve.
func (gw *Gateway) newFrontend(conn FrameConn) *Frontend {
	fe := &Frontend{
		ID:   ConnID(gw.newID()),
		gw:   gw,
		conn: conn,
	}
	fe.out = newOutbox(fe.write, func(err error) { fe.fail("write", err) })
	if fe.added = gw.addFrontend(fe); !fe.added {
		fe.Close()
	}
	return fe
}

func (fe *Frontend) String() string {
	return fmt.Sprintf("[Frontend %v %v %v]", fe.ID, fe.state.get(), fe.conn.RemoteAddr())
}

// serve runs the read loop until the connection ends, then closes the
// Frontend and waits for its writer to stop.
func (fe *Frontend) serve(ctx context.Context) {
	defer fe.finish()
	if fe.state.get() == stateClosed {
		return
	}
	fe.state.set(stateHandshake)
	hctx, cancel := context.WithTimeout(ctx, fe.gw.handshakeTimeout())
	err := fe.conn.Handshake(hctx)
	cancel()
	if err != nil {
		fe.fail("handshake", err)
		return
	}
	fe.gw.logger().Debug("frontend connected",
		zap.Stringer("frontend", fe.ID),
		zap.Stringer("remote_addr", fe.conn.RemoteAddr()),
	)
	for {
		fe.state.set(stateAwaitFrame)
		fd := FrameDataAlloc()
		if err = fe.conn.ReadFrame(&fd); err != nil {
			FrameDataFree(fd)
			fe.fail("read", err)
			return
		}
		fe.gw.AddBytesRead(int64(len(fd)))
		fe.state.set(stateRouting)
		hdr := fd.Header()
		if err = DecodePayload(hdr.Type(), fd.Payload()); err != nil {
			fe.gw.logger().Info("closing frontend on malformed payload",
				zap.Stringer("frontend", fe.ID),
				zap.Stringer("type", hdr.Type()),
				zap.Uint16("service", hdr.Service()),
				zap.Error(err),
			)
			FrameDataFree(fd)
			fe.Close()
			return
		}
		fe.gw.forward(fe, fd)
	}
}

func (fe *Frontend) finish() {
	fe.Close()
	fe.out.wait()
	fe.gw.logger().Debug("frontend closed", zap.Stringer("frontend", fe.ID))
	if fe.added {
		fe.gw.wg.Done()
	}
}

// submit queues fd for writing to the client, taking ownership of it.
// It returns false if the Frontend is closed.
func (fe *Frontend) submit(fd FrameData) bool {
	return fe.out.submit(fd)
}

func (fe *Frontend) write(fd FrameData) error {
	if err := fe.conn.WriteFrame(fd); err != nil {
		return err
	}
	fe.gw.AddBytesWritten(int64(len(fd)))
	return nil
}

// fail reports err from operation op and closes the Frontend.
// Orderly ends of stream are not reported.
func (fe *Frontend) fail(op string, err error) {
	if fe.state.get() != stateClosed && !isClosedError(err) {
		fe.gw.incr(MetricConnErrorCount, 1, LabelRole.M(roleFrontend), LabelOp.M(op))
		fe.gw.logger().Warn("frontend connection error",
			LabelRole.L(roleFrontend),
			LabelOp.L(op),
			zap.Stringer("frontend", fe.ID),
			zap.Stringer("remote_addr", fe.conn.RemoteAddr()),
			zap.Error(err),
		)
	}
	fe.Close()
}

// Close closes the connection and removes the Frontend from the arena.
// Queued responses are discarded. Pending requests stay in the
// correlation table and their responses are dropped when they arrive.
func (fe *Frontend) Close() (err error) {
	if fe.state.closing() {
		fe.gw.removeFrontend(fe)
		fe.out.close()
		err = fe.conn.Close()
	}
	return
}

// Pending returns the number of responses queued for writing.
func (fe *Frontend) Pending() int {
	return fe.out.pending()
}
