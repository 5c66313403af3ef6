package carrier

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Gateway accepts client connections, keeps one connection per backend
// service and multiplexes client requests onto those connections. Replies
// are routed back to the client that sent the request with the client's own
// sequence number restored.
//
// Set the exported fields before calling Start or Run.
type Gateway struct {
	Transport         Transport     // frontend transport, TransportTCP if zero
	TLSConfig         *tls.Config   // server certificates when Transport is secure
	BackendTransport  Transport     // backend transport, TransportTCP if zero
	BackendTLSConfig  *tls.Config   // client config when BackendTransport is secure
	WebSocketPath     string        // upgrade path for WebSocket transports, "/" if empty
	DialTimeout       time.Duration // backend dial timeout, DefaultDialTimeout if zero
	HandshakeTimeout  time.Duration // TLS or upgrade timeout, DefaultHandshakeTimeout if zero
	MaxPayloadSize    int           // largest accepted payload, DefaultMaxPayloadSize if zero
	RequestTimeout    time.Duration // expire unanswered requests after this, never if zero
	ReconnectInterval time.Duration // redial lost backends after this, never if zero
	// FailPendingOnBackendLoss discards the pending requests of a backend
	// as soon as its connection is lost.
	FailPendingOnBackendLoss bool
	// ErrorReplies sends a header-only response carrying one of the
	// ErrorCode values for requests that will never be answered.
	ErrorReplies bool
	AdminAddr    string             // address for the admin HTTP endpoint, disabled if empty
	Logger       *zap.Logger        // defaults to a no-op logger
	MetricSink   metrics.MetricSink // defaults to a BlackholeSink
	MetricLabels []metrics.Label    // added to every metric

	correlations *CorrelationTable
	registry     *Registry
	nextID       uint64
	stats        counters
	wg           sync.WaitGroup // frontends, backend supervisors and the expiry sweeper

	mu        sync.Mutex // protects those below
	frontends map[ConnID]*Frontend
	backends  map[*Backend]struct{}
	attempts  map[uint16]*Backend // latest connection attempt per service
	listeners map[net.Listener]struct{}
	doneChan  chan struct{}
	started   bool
	services  ServiceTable
}

// NewGateway returns a Gateway with empty tables and default settings.
func NewGateway() *Gateway {
	return &Gateway{
		correlations: NewCorrelationTable(),
		registry:     NewRegistry(),
		frontends:    make(map[ConnID]*Frontend),
		backends:     make(map[*Backend]struct{}),
		attempts:     make(map[uint16]*Backend),
		listeners:    make(map[net.Listener]struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Correlations returns the table of requests awaiting a response.
func (gw *Gateway) Correlations() *CorrelationTable {
	return gw.correlations
}

func (gw *Gateway) serviceTable() ServiceTable {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.services
}

// Registry returns the service registry.
func (gw *Gateway) Registry() *Registry {
	return gw.registry
}

func (gw *Gateway) logger() *zap.Logger {
	if gw.Logger == nil {
		return zap.NewNop()
	}
	return gw.Logger
}

func (gw *Gateway) maxPayload() int {
	if gw.MaxPayloadSize > 0 {
		return gw.MaxPayloadSize
	}
	return DefaultMaxPayloadSize
}

func (gw *Gateway) handshakeTimeout() time.Duration {
	if gw.HandshakeTimeout > 0 {
		return gw.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}

func (gw *Gateway) newDialer() *dialer {
	d := &dialer{
		transport:        gw.BackendTransport,
		tlsConfig:        gw.BackendTLSConfig,
		dialTimeout:      gw.DialTimeout,
		handshakeTimeout: gw.handshakeTimeout(),
		wsPath:           gw.WebSocketPath,
		maxPayload:       gw.maxPayload(),
	}
	if d.dialTimeout <= 0 {
		d.dialTimeout = DefaultDialTimeout
	}
	return d
}

func (gw *Gateway) newID() uint64 {
	return atomic.AddUint64(&gw.nextID, 1)
}

func (gw *Gateway) isClosed() bool {
	select {
	case <-gw.doneChan:
		return true
	default:
		return false
	}
}

// Start connects to every service in services and registers each backend
// whose connection succeeds. It returns once every first attempt has either
// succeeded or failed. Failed services stay unregistered unless
// ReconnectInterval is set, in which case they are retried in the background.
func (gw *Gateway) Start(ctx context.Context, services ServiceTable) error {
	gw.mu.Lock()
	if gw.isClosed() {
		gw.mu.Unlock()
		return errors.WithStack(ErrServerClosed)
	}
	if gw.started {
		gw.mu.Unlock()
		return errors.New("carrier: gateway already started")
	}
	gw.started = true
	gw.mu.Unlock()

	seen := make(map[uint16]struct{})
	var table ServiceTable
	for _, entry := range services {
		if _, dup := seen[entry.ID]; dup {
			gw.logger().Warn("ignoring duplicate service", zap.Uint16("service", entry.ID))
			continue
		}
		seen[entry.ID] = struct{}{}
		table = append(table, entry)
	}
	gw.mu.Lock()
	gw.services = table
	gw.mu.Unlock()

	var ready sync.WaitGroup
	for _, entry := range table {
		ready.Add(1)
		gw.wg.Add(1)
		go gw.superviseBackend(ctx, entry, ready.Done)
	}
	if gw.RequestTimeout > 0 {
		gw.wg.Add(1)
		go gw.sweep(ctx)
	}
	ready.Wait()
	gw.logger().Info("gateway started",
		zap.Int("services", len(table)),
		zap.Int("connected", gw.registry.Len()),
	)
	return nil
}

// Run starts the backends, listens on listenAddr and serves until ctx is
// done or a listener fails. The admin endpoint is served too if AdminAddr
// is set. Run closes the Gateway before returning.
func (gw *Gateway) Run(ctx context.Context, listenAddr string, services ServiceTable) (err error) {
	defer gw.Close()
	if err = gw.Start(ctx, services); err != nil {
		return
	}
	var adm net.Listener
	if gw.AdminAddr != "" {
		if adm, err = gw.listenAdmin(gw.AdminAddr); err != nil {
			return
		}
	}
	ln, err := gw.Listen(listenAddr)
	if err != nil {
		if adm != nil {
			adm.Close()
		}
		return
	}
	gw.logger().Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Stringer("transport", gw.Transport),
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Serve(ln)
	})
	if adm != nil {
		g.Go(func() error {
			return gw.serveAdmin(adm)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return gw.Close()
	})
	if err = g.Wait(); errors.Cause(err) == ErrServerClosed {
		err = nil
	}
	return
}

// Close stops the Gateway. Listeners, frontends and backends are closed,
// then Close waits for the frontend read loops, the backend supervisors and
// the expiry sweeper to return. Pending requests are dropped.
func (gw *Gateway) Close() (err error) {
	gw.mu.Lock()
	select {
	case <-gw.doneChan:
		gw.mu.Unlock()
		return nil
	default:
		close(gw.doneChan)
	}
	for ln := range gw.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil && !isClosedError(cerr) {
			err = cerr
		}
		delete(gw.listeners, ln)
	}
	frontends := make([]*Frontend, 0, len(gw.frontends))
	for _, fe := range gw.frontends {
		frontends = append(frontends, fe)
	}
	backends := make([]*Backend, 0, len(gw.backends))
	for be := range gw.backends {
		backends = append(backends, be)
	}
	gw.mu.Unlock()

	for _, fe := range frontends {
		fe.Close()
	}
	for _, be := range backends {
		be.Close()
	}
	gw.wg.Wait()
	gw.logger().Info("gateway closed", zap.Int("dropped_pending", gw.correlations.Len()))
	return
}

// addFrontend places fe in the arena and counts it in gw.wg until its
// serve returns. It returns false if the Gateway is closed.
func (gw *Gateway) addFrontend(fe *Frontend) bool {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.isClosed() {
		return false
	}
	gw.wg.Add(1)
	gw.frontends[fe.ID] = fe
	return true
}

func (gw *Gateway) removeFrontend(fe *Frontend) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if gw.frontends[fe.ID] == fe {
		delete(gw.frontends, fe.ID)
	}
}

// Frontend returns the live frontend with the given id, or nil.
func (gw *Gateway) Frontend(id ConnID) *Frontend {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.frontends[id]
}

// trackBackend adds or removes be from the set closed by Close.
// It returns false if adding to a closed Gateway.
func (gw *Gateway) trackBackend(be *Backend, add bool) bool {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	if add {
		if gw.isClosed() {
			return false
		}
		gw.backends[be] = struct{}{}
	} else {
		delete(gw.backends, be)
	}
	return true
}

func (gw *Gateway) setAttempt(be *Backend) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.attempts[be.Service] = be
}

// attempt returns the latest Backend created for service, or nil.
func (gw *Gateway) attempt(service uint16) *Backend {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.attempts[service]
}

// forward routes a request read from fe to the backend for its service.
// It takes ownership of fd.
func (gw *Gateway) forward(fe *Frontend, fd FrameData) {
	hdr := fd.Header()
	service := hdr.Service()
	gw.incr(MetricFramesIn, 1, LabelRole.M(roleFrontend))
	be, found := gw.registry.Lookup(service)
	if !found {
		gw.logger().Debug("no backend for service",
			zap.Stringer("frontend", fe.ID),
			zap.Uint16("service", service),
		)
		gw.dropped(ReasonUnroutable)
		if gw.ErrorReplies {
			gw.replyError(fe, errorHeader(hdr, ErrorCodeUnroutable))
		}
		FrameDataFree(fd)
		return
	}
	original := hdr.Seq()
	seq := gw.correlations.Register(original, fe.ID, service)
	hdr.SetSeq(seq)
	atomic.AddUint64(&gw.stats.framesForwarded, 1)
	if !be.submit(fd) {
		// the backend went away after the lookup
		atomic.AddUint64(&gw.stats.framesForwarded, ^uint64(0))
		gw.correlations.Resolve(seq)
		gw.dropped(ReasonBackendUnavailable)
		if gw.ErrorReplies {
			gw.replyError(fe, Header{Mode: ModeResponse, Service: service, Seq: original, Error: ErrorCodeBackendLost})
		}
		return
	}
	gw.incr(MetricFramesOut, 1, LabelRole.M(roleBackend), serviceLabel(service))
}

// deliver routes a response read from be back to the requesting frontend.
// It takes ownership of fd.
func (gw *Gateway) deliver(be *Backend, fd FrameData) {
	hdr := fd.Header()
	gw.incr(MetricFramesIn, 1, LabelRole.M(roleBackend), serviceLabel(be.Service))
	c, found := gw.correlations.Resolve(hdr.Seq())
	if !found {
		gw.logger().Debug("response without pending request",
			zap.Uint16("service", be.Service),
			zap.Uint32("seq", hdr.Seq()),
		)
		gw.dropped(ReasonUnresolved)
		FrameDataFree(fd)
		return
	}
	be.state.set(stateForwarding)
	hdr.SetSeq(c.Original)
	fe := gw.Frontend(c.Frontend)
	if fe == nil {
		FrameDataFree(fd)
		gw.dropped(ReasonFrontendGone)
		return
	}
	atomic.AddUint64(&gw.stats.framesReturned, 1)
	if !fe.submit(fd) {
		atomic.AddUint64(&gw.stats.framesReturned, ^uint64(0))
		gw.dropped(ReasonFrontendGone)
		return
	}
	gw.incr(MetricFramesOut, 1, LabelRole.M(roleFrontend))
}

// backendLost is called once when the connection of be ends.
func (gw *Gateway) backendLost(be *Backend) {
	if gw.registry.Unregister(be.Service, be) {
		gw.gauge(MetricBackendUp, 0, serviceLabel(be.Service))
	}
	gw.trackBackend(be, false)
	if !gw.FailPendingOnBackendLoss {
		return
	}
	taken := gw.correlations.TakeService(be.Service)
	for _, c := range taken {
		gw.dropped(ReasonBackendUnavailable)
		if gw.ErrorReplies {
			if fe := gw.Frontend(c.Frontend); fe != nil {
				gw.replyError(fe, Header{Mode: ModeResponse, Service: c.Service, Seq: c.Original, Error: ErrorCodeBackendLost})
			}
		}
	}
	if len(taken) > 0 {
		gw.logger().Info("discarded pending requests",
			zap.Uint16("service", be.Service),
			zap.Int("count", len(taken)),
		)
	}
}

// errorHeader returns the header of a header-only error response to the
// request described by hdr.
func errorHeader(hdr FrameHeader, code uint16) (h Header) {
	h = hdr.Decode()
	h.Mode = ModeResponse
	h.Error = code
	h.Length = 0
	return
}

func (gw *Gateway) replyError(fe *Frontend, h Header) {
	fd := FrameDataAlloc()
	fd = AppendFrame(fd[:0], h, nil)
	if fe.submit(fd) {
		atomic.AddUint64(&gw.stats.errorReplies, 1)
		gw.incr(MetricErrorReplies, 1)
	}
}

// superviseBackend owns the connection to one service, redialing it after
// ReconnectInterval when it is lost. ready is called after the first attempt.
func (gw *Gateway) superviseBackend(ctx context.Context, entry ServiceEntry, ready func()) {
	defer gw.wg.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// abort a dial in progress on Close
		select {
		case <-gw.doneChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	for {
		be := gw.newBackend(entry)
		gw.setAttempt(be)
		err := be.connect(ctx)
		if ready != nil {
			ready()
			ready = nil
		}
		if err == nil {
			be.serve()
		}
		if gw.ReconnectInterval <= 0 {
			return
		}
		t := time.NewTimer(gw.ReconnectInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		case <-gw.doneChan:
			t.Stop()
			return
		}
	}
}

// sweep expires requests older than RequestTimeout.
func (gw *Gateway) sweep(ctx context.Context) {
	defer gw.wg.Done()
	interval := gw.RequestTimeout / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			gw.expire(time.Now().Add(-gw.RequestTimeout))
		case <-ctx.Done():
			return
		case <-gw.doneChan:
			return
		}
	}
}

// expire discards requests registered before t.
func (gw *Gateway) expire(t time.Time) {
	expired := gw.correlations.Expire(t)
	for _, c := range expired {
		atomic.AddUint64(&gw.stats.expired, 1)
		if gw.ErrorReplies {
			if fe := gw.Frontend(c.Frontend); fe != nil {
				gw.replyError(fe, Header{Mode: ModeResponse, Service: c.Service, Seq: c.Original, Error: ErrorCodeTimeout})
			}
		}
	}
	if len(expired) > 0 {
		gw.incr(MetricCorrelationExpiry, float32(len(expired)))
		gw.logger().Debug("expired pending requests", zap.Int("count", len(expired)))
	}
	gw.gauge(MetricCorrelationsLive, float32(gw.correlations.Len()))
}
