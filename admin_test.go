package carrier

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func adminRequest(t *testing.T, h fasthttp.RequestHandler, method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	h(&ctx)
	return &ctx
}

func Test_Admin_Routes(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	bt := newBackendTester(t, nil, nil)
	defer bt.Close()
	gt := newGatewayTester(t, nil, bt.entry(4))
	defer gt.Close()

	c := gt.dial()
	defer c.Close()
	c.send(4, 1, "count me")
	c.recv()

	h, err := gt.gw.AdminHandler()
	require.NoError(t, err)

	ctx := adminRequest(t, h, "GET", "/stats")
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
	var st Stats
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &st))
	assert.Equal(t, uint64(1), st.FramesForwarded)
	assert.Equal(t, 1, st.Backends)
	assert.Equal(t, 1, st.Frontends)

	ctx = adminRequest(t, h, "GET", "/services")
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	var list []ServiceStatus
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, uint16(4), list[0].ID)
	assert.True(t, list[0].Up)
	assert.NotEmpty(t, list[0].State)

	ctx = adminRequest(t, h, "GET", "/services/4")
	assert.Equal(t, http.StatusOK, ctx.Response.StatusCode())
	var ss ServiceStatus
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &ss))
	assert.Equal(t, bt.ln.Addr().String(), ss.Addr)

	ctx = adminRequest(t, h, "GET", "/services/5")
	assert.Equal(t, http.StatusNotFound, ctx.Response.StatusCode())

	ctx = adminRequest(t, h, "GET", "/services/notanumber")
	assert.Equal(t, http.StatusBadRequest, ctx.Response.StatusCode())

	ctx = adminRequest(t, h, "GET", "/nothing")
	assert.Equal(t, http.StatusNotFound, ctx.Response.StatusCode())

	ctx = adminRequest(t, h, "POST", "/stats")
	assert.Equal(t, http.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func Test_Admin_EmptyServices(t *testing.T) {
	gw := NewGateway()
	defer gw.Close()
	h, err := gw.AdminHandler()
	require.NoError(t, err)
	ctx := adminRequest(t, h, "GET", "/services")
	assert.Equal(t, "[]", string(ctx.Response.Body()))
}

func Test_Admin_Serve(t *testing.T) {
	gw := NewGateway()
	ln, err := gw.listenAdmin("127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- gw.serveAdmin(ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var st Stats
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()

	require.NoError(t, gw.Close())
	assert.Equal(t, ErrServerClosed, errors.Cause(<-done))
}
