package server

import (
	"context"
	"fmt"
	"net"
	"time"

	sandwich "github.com/WelcomerTeam/Sandwich-Gateway"
	"github.com/WelcomerTeam/Sandwich-Gateway/sandwichjson"
	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// RestResponse is the response when returning rest requests.
type RestResponse struct {
	Ok       bool   `json:"ok"`
	Data     any    `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration_ms"`
}

type ShardStatus struct {
	ShardID   int32           `json:"id"`
	Status    sandwich.Status `json:"status"`
	LatencyMs int64           `json:"latency_ms"`
	Guilds    int             `json:"guilds"`
	Resumable bool            `json:"resumable"`
}

type ManagerStatus struct {
	Identifier string          `json:"identifier"`
	Status     sandwich.Status `json:"status"`
	ReadyAt    *time.Time      `json:"ready_at,omitempty"`
	PingMs     int64           `json:"ping_ms"`
	Pending    int             `json:"pending_packets"`
	Shards     []ShardStatus   `json:"shards"`
}

// Server exposes manager status and prometheus metrics over HTTP.
type Server struct {
	Logger zerolog.Logger

	managers []*sandwich.Manager
	router   *router.Router
}

func NewServer(logger zerolog.Logger, managers []*sandwich.Manager) *Server {
	s := &Server{
		Logger:   logger,
		managers: managers,
		router:   router.New(),
	}

	s.router.GET("/api/status", s.StatusEndpoint)
	s.router.GET("/healthz", s.HealthEndpoint)
	s.router.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	return s
}

func (s *Server) Handler() fasthttp.RequestHandler {
	return s.requestLogger(s.router.Handler)
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, host string) error {
	listener, err := net.Listen("tcp", host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", host, err)
	}

	server := &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "Sandwich-Gateway",
	}

	errs := make(chan error, 1)

	go func() {
		errs <- server.Serve(listener)
	}()

	s.Logger.Info().Str("host", host).Msg("Serving status API")

	select {
	case err := <-errs:
		return fmt.Errorf("failed to serve status API: %w", err)
	case <-ctx.Done():
		return server.Shutdown()
	}
}

func (s *Server) StatusEndpoint(ctx *fasthttp.RequestCtx) {
	start := time.Now()

	statuses := make([]ManagerStatus, 0, len(s.managers))
	for _, manager := range s.managers {
		statuses = append(statuses, managerStatus(manager))
	}

	writeResponse(ctx, fasthttp.StatusOK, RestResponse{
		Ok:       true,
		Data:     statuses,
		Duration: time.Since(start).Milliseconds(),
	})
}

// HealthEndpoint reports 200 once every manager is ready.
func (s *Server) HealthEndpoint(ctx *fasthttp.RequestCtx) {
	for _, manager := range s.managers {
		if manager.Status() != sandwich.StatusReady {
			writeResponse(ctx, fasthttp.StatusServiceUnavailable, RestResponse{
				Ok:    false,
				Error: fmt.Sprintf("manager %s is %s", manager.Identifier, manager.Status()),
			})

			return
		}
	}

	writeResponse(ctx, fasthttp.StatusOK, RestResponse{Ok: true})
}

func managerStatus(manager *sandwich.Manager) ManagerStatus {
	status := ManagerStatus{
		Identifier: manager.Identifier,
		Status:     manager.Status(),
		PingMs:     manager.Ping().Milliseconds(),
		Pending:    manager.PendingPackets(),
		Shards:     make([]ShardStatus, 0),
	}

	if readyAt := manager.ReadyAt(); !readyAt.IsZero() {
		status.ReadyAt = &readyAt
	}

	for _, shard := range manager.Shards() {
		status.Shards = append(status.Shards, ShardStatus{
			ShardID:   shard.ShardID,
			Status:    shard.Status(),
			LatencyMs: shard.Latency().Milliseconds(),
			Guilds:    len(shard.Guilds()),
			Resumable: shard.HasSession(),
		})
	}

	return status
}

func writeResponse(ctx *fasthttp.RequestCtx, statusCode int, response RestResponse) {
	ctx.SetContentType("application/json;charset=utf8")
	ctx.SetStatusCode(statusCode)

	if err := sandwichjson.MarshalToWriter(ctx, response); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func (s *Server) requestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()

		next(ctx)

		s.Logger.Debug().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("took", time.Since(start)).
			Msg("Handled request")
	}
}
