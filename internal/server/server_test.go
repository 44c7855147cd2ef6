package server

import (
	"encoding/json"
	"testing"

	sandwich "github.com/WelcomerTeam/Sandwich-Gateway"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func request(t *testing.T, s *Server, path string) *fasthttp.RequestCtx {
	t.Helper()

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(fasthttp.MethodGet)
	ctx.Request.SetRequestURI(path)

	s.Handler()(ctx)

	return ctx
}

func newTestServer() *Server {
	manager := sandwich.NewManager(zerolog.Nop(), sandwich.ManagerConfiguration{
		Identifier: "welcomer",
		Token:      "token",
	}, nil, nil, nil)

	return NewServer(zerolog.Nop(), []*sandwich.Manager{manager})
}

func TestStatusEndpoint(t *testing.T) {
	ctx := request(t, newTestServer(), "/api/status")

	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var response struct {
		Ok   bool            `json:"ok"`
		Data []ManagerStatus `json:"data"`
	}

	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	assert.True(t, response.Ok)
	require.Len(t, response.Data, 1)
	assert.Equal(t, "welcomer", response.Data[0].Identifier)
	assert.Equal(t, sandwich.StatusIdle, response.Data[0].Status)
	assert.Nil(t, response.Data[0].ReadyAt)
	assert.Empty(t, response.Data[0].Shards)
}

func TestHealthEndpointUnavailableUntilReady(t *testing.T) {
	ctx := request(t, newTestServer(), "/healthz")

	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "manager welcomer is Idle")
}

func TestMetricsEndpoint(t *testing.T) {
	sandwich.RecordEvent("welcomer", "MESSAGE_CREATE")

	ctx := request(t, newTestServer(), "/metrics")

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "sandwich_events_total")
}

func TestUnknownRoute(t *testing.T) {
	ctx := request(t, newTestServer(), "/nope")

	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
