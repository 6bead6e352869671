// Package server hosts authoritative game lobbies behind a WebSocket
// endpoint. Applications implement GameHooks per lobby type, register
// them on a Server, and the framework runs one worker goroutine per
// lobby, fans state diffs out to subscribed sessions and answers the
// client protocol (connect, create, join, action).
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/manuelgdlvh/thunders/internal/middleware"
	"github.com/manuelgdlvh/thunders/wire"
)

// Config tunes one server instance. Zero values fall back to the noted
// defaults.
type Config struct {
	// Addr is the listen address for Run. Default ":8080".
	Addr string
	// Path is the WebSocket endpoint. Default "/ws".
	Path string
	// OriginPatterns is forwarded to the WebSocket accept check.
	// Default allows every origin.
	OriginPatterns []string
	// EnableMetrics mounts the Prometheus registry at /metrics.
	EnableMetrics bool
	// MaxMessageRate caps inbound messages per second per connection.
	// Zero disables the limiter.
	MaxMessageRate float64
	// MessageBurst is the limiter burst. Default 8.
	MessageBurst int
	// Logger defaults to a fresh logrus logger at Info level.
	Logger *logrus.Logger
}

// Server owns the session fabric, the lobby type registry and the
// transport endpoint. Register lobby types before calling Run.
type Server struct {
	cfg      Config
	schema   wire.Schema
	log      *logrus.Logger
	metrics  *metrics
	sessions *Sessions
	registry *registry
	handler  http.Handler
}

// New assembles a server around the given wire schema.
func New(cfg Config, schema wire.Schema) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = []string{"*"}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MessageBurst <= 0 {
		cfg.MessageBurst = 8
	}

	m := newMetrics()
	sessions := newSessions(schema, cfg.Logger, m)
	reg := newRegistry()
	ws := &wsHandler{
		schema:   schema,
		sessions: sessions,
		registry: reg,
		log:      cfg.Logger,
		metrics:  m,
		origins:  cfg.OriginPatterns,
		limit:    rate.Limit(cfg.MaxMessageRate),
		burst:    cfg.MessageBurst,
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.EnableMetrics {
		mux.Handle("/metrics", m.handler())
	}

	return &Server{
		cfg:      cfg,
		schema:   schema,
		log:      cfg.Logger,
		metrics:  m,
		sessions: sessions,
		registry: reg,
		handler:  middleware.LogMiddleware(cfg.Logger)(mux),
	}
}

// Handler exposes the full endpoint mux, for embedding into an existing
// server or an httptest harness.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts the listener down
// gracefully and returns the terminal error, if any.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.handler}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("listening on %s", s.cfg.Addr)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
