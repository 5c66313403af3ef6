package carrier

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/naoina/denco"
	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// ServiceStatus describes one configured service on the admin endpoint.
type ServiceStatus struct {
	ID          uint16    `json:"id"`
	Addr        string    `json:"addr"`
	Up          bool      `json:"up"`
	State       string    `json:"state,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type adminHandler func(ctx *fasthttp.RequestCtx, ps denco.Params)

// ServiceStatus returns the status of service id and whether it is registered.
// For a service that is down, LastError comes from its latest connection attempt.
func (gw *Gateway) ServiceStatus(id uint16) (ss ServiceStatus, up bool) {
	ss.ID = id
	if entry, ok := gw.serviceTable().Lookup(id); ok {
		ss.Addr = net.JoinHostPort(entry.Host, entry.Port)
	}
	be, up := gw.registry.Lookup(id)
	if !up {
		be = gw.attempt(id)
	}
	if be != nil {
		ss.Up = up
		ss.Addr = be.Addr()
		ss.State = strings.TrimSpace(be.state.get().String())
		if up {
			ss.ConnectedAt = be.ConnectedAt()
		}
		if err := be.LastError(); err != nil {
			ss.LastError = err.Error()
		}
	}
	return
}

// ServiceStatuses returns the status of every configured or registered service.
func (gw *Gateway) ServiceStatuses() (list []ServiceStatus) {
	seen := make(map[uint16]struct{})
	for _, entry := range gw.serviceTable() {
		seen[entry.ID] = struct{}{}
		ss, _ := gw.ServiceStatus(entry.ID)
		list = append(list, ss)
	}
	for _, id := range gw.registry.Services() {
		if _, ok := seen[id]; !ok {
			ss, _ := gw.ServiceStatus(id)
			list = append(list, ss)
		}
	}
	return
}

// AdminHandler returns the fasthttp handler serving the read-only admin
// routes: GET /stats, GET /services and GET /services/:id.
func (gw *Gateway) AdminHandler() (fasthttp.RequestHandler, error) {
	router := denco.New()
	if err := router.Build([]denco.Record{
		denco.NewRecord("/stats", adminHandler(gw.adminStats)),
		denco.NewRecord("/services", adminHandler(gw.adminServices)),
		denco.NewRecord("/services/:id", adminHandler(gw.adminService)),
	}); err != nil {
		return nil, errors.WithStack(err)
	}
	return func(ctx *fasthttp.RequestCtx) {
		data, ps, found := router.Lookup(string(ctx.Path()))
		if !found {
			ctx.Error(http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		if !ctx.IsGet() && !ctx.IsHead() {
			ctx.Response.Header.Set("Allow", "GET, HEAD")
			ctx.Error(http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		data.(adminHandler)(ctx, ps)
	}, nil
}

func (gw *Gateway) adminStats(ctx *fasthttp.RequestCtx, _ denco.Params) {
	writeJSON(ctx, http.StatusOK, gw.Stats())
}

func (gw *Gateway) adminServices(ctx *fasthttp.RequestCtx, _ denco.Params) {
	list := gw.ServiceStatuses()
	if list == nil {
		list = []ServiceStatus{}
	}
	writeJSON(ctx, http.StatusOK, list)
}

func (gw *Gateway) adminService(ctx *fasthttp.RequestCtx, ps denco.Params) {
	id, err := strconv.ParseUint(ps.Get("id"), 10, 16)
	if err != nil {
		ctx.Error("bad service id", http.StatusBadRequest)
		return
	}
	ss, up := gw.ServiceStatus(uint16(id))
	if !up {
		ctx.Error("service not registered", http.StatusNotFound)
		return
	}
	writeJSON(ctx, http.StatusOK, ss)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		ctx.Error(err.Error(), http.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

// listenAdmin announces the admin endpoint address.
func (gw *Gateway) listenAdmin(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, transportError("listen", err)
	}
	gw.logger().Info("admin listening", zap.String("addr", ln.Addr().String()))
	return ln, nil
}

// serveAdmin serves AdminHandler on ln until Close.
func (gw *Gateway) serveAdmin(ln net.Listener) error {
	handler, err := gw.AdminHandler()
	if err != nil {
		ln.Close()
		return err
	}
	if !gw.trackListener(ln, true) {
		ln.Close()
		return errors.WithStack(ErrServerClosed)
	}
	defer gw.trackListener(ln, false)
	srv := &fasthttp.Server{
		Handler:     handler,
		Name:        "carrier",
		ReadTimeout: gw.handshakeTimeout(),
		Logger:      zap.NewStdLog(gw.logger()),
	}
	err = srv.Serve(ln)
	if gw.isClosed() {
		return errors.WithStack(ErrServerClosed)
	}
	return transportError("accept", err)
}
