// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package carrier

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// network connections so dead clients eventually go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// Listen announces on the local TCP address.
func (gw *Gateway) Listen(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, transportError("listen", err)
	}
	return tcpKeepAliveListener{ln.(*net.TCPListener)}, nil
}

// ListenAndServe listens on the TCP address and then calls Serve.
func (gw *Gateway) ListenAndServe(address string) (err error) {
	listener, err := gw.Listen(address)
	if err == nil {
		err = gw.Serve(listener)
	}
	return
}

// Serve accepts client connections on l using gw.Transport, creating a
// Frontend and a goroutine for each. Accept errors are logged and the loop
// backs off for up to one second before retrying. Serve returns
// ErrServerClosed after Close.
func (gw *Gateway) Serve(l net.Listener) error {
	if gw.Transport.Secure() {
		if gw.TLSConfig == nil {
			l.Close()
			return errors.WithStack(ErrNoTLSConfig)
		}
		l = tls.NewListener(l, gw.TLSConfig)
	}
	if gw.Transport.WebSocket() {
		return gw.serveHTTP(l)
	}
	defer l.Close()
	if !gw.trackListener(l, true) {
		return errors.WithStack(ErrServerClosed)
	}
	defer gw.trackListener(l, false)

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		rwc, err := l.Accept()
		if err != nil {
			if gw.isClosed() {
				return errors.WithStack(ErrServerClosed)
			}
			if isClosedError(err) {
				// the listener was closed from outside
				return errors.WithStack(ErrServerClosed)
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			gw.incr(MetricConnErrorCount, 1, LabelRole.M(roleFrontend), LabelOp.M("accept"))
			gw.logger().Warn("accept failed",
				zap.Error(transportError("accept", err)),
				zap.Duration("retry_in", tempDelay),
			)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		gw.incr(MetricFrontendAccepted, 1)
		go gw.newFrontend(newStreamConn(rwc, gw.maxPayload())).serve(context.Background())
	}
}

// serveHTTP serves WebSocketHandler on l until Close.
func (gw *Gateway) serveHTTP(l net.Listener) error {
	srv := &http.Server{
		Handler:           gw.WebSocketHandler(),
		ReadHeaderTimeout: gw.handshakeTimeout(),
		ErrorLog:          zap.NewStdLog(gw.logger()),
	}
	if !gw.trackListener(l, true) {
		l.Close()
		return errors.WithStack(ErrServerClosed)
	}
	defer gw.trackListener(l, false)
	err := srv.Serve(l)
	if gw.isClosed() {
		srv.Close()
		return errors.WithStack(ErrServerClosed)
	}
	return transportError("accept", err)
}

// trackListener adds or removes ln from the set closed by Close.
// It returns false if adding to a closed Gateway.
func (gw *Gateway) trackListener(ln net.Listener, add bool) bool {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if add {
		if gw.isClosed() {
			return false
		}
		gw.listeners[ln] = struct{}{}
	} else {
		delete(gw.listeners, ln)
	}
	return true
}
