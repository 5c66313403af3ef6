package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/deepgrace/carrier"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// echoServer answers every frame with the same frame in response mode.
type echoServer struct {
	delay  time.Duration
	logger *zap.Logger
}

func (es *echoServer) respond(fd carrier.FrameData) {
	if es.delay > 0 {
		time.Sleep(es.delay)
	}
	fd.Header().SetMode(carrier.ModeResponse)
	es.logger.Debug("echo", zap.Stringer("frame", fd))
}

func (es *echoServer) serveStream(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	fd := carrier.FrameDataAlloc()
	defer func() { carrier.FrameDataFree(fd) }()
	for {
		if _, err := fd.ReadFrom(br); err != nil {
			es.logger.Debug("connection closed", zap.Stringer("remote_addr", conn.RemoteAddr()), zap.Error(err))
			return
		}
		es.respond(fd)
		if _, err := fd.WriteTo(conn); err != nil {
			es.logger.Warn("write failed", zap.Stringer("remote_addr", conn.RemoteAddr()), zap.Error(err))
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (es *echoServer) serveWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			es.logger.Debug("connection closed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			return
		}
		fd := carrier.FrameData(msg)
		if mt != websocket.BinaryMessage || !fd.Complete() {
			es.logger.Warn("dropping malformed message", zap.String("remote_addr", r.RemoteAddr))
			continue
		}
		es.respond(fd)
		if err = ws.WriteMessage(websocket.BinaryMessage, fd); err != nil {
			return
		}
	}
}

func run(addr, transport, wspath string, es *echoServer) error {
	tr, err := carrier.ParseTransport(transport)
	if err != nil {
		return err
	}
	if tr.Secure() {
		return errors.Errorf("transport %v is not supported by the echo service", tr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithStack(err)
	}
	defer ln.Close()
	es.logger.Info("echo service listening", zap.String("addr", ln.Addr().String()), zap.Stringer("transport", tr))
	if tr.WebSocket() {
		router := httprouter.New()
		router.GET(wspath, es.serveWebSocket)
		return (&http.Server{Handler: router, ReadHeaderTimeout: carrier.DefaultHandshakeTimeout}).Serve(ln)
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.WithStack(err)
		}
		go es.serveStream(conn)
	}
}

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:9000", "address to listen on")
	transport := flag.String("transport", "tcp", "transport: tcp or ws")
	wspath := flag.String("wspath", carrier.DefaultWebSocketPath, "WebSocket upgrade path")
	delay := flag.Duration("delay", 0, "wait this long before answering each frame")
	debug := flag.Bool("debug", false, "log every frame")
	flag.Parse()

	var logger *zap.Logger
	var err error
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err = run(*listenAddr, *transport, *wspath, &echoServer{delay: *delay, logger: logger}); err != nil {
		logger.Error("echo service failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
