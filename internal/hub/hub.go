// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openchat-io/openchat/internal/api"
	"github.com/openchat-io/openchat/internal/auth"
	"github.com/openchat-io/openchat/internal/chat"
	"github.com/openchat-io/openchat/internal/config"
	"github.com/openchat-io/openchat/internal/eventbus"
	"github.com/openchat-io/openchat/internal/presence"
	"github.com/openchat-io/openchat/internal/router"
	"github.com/openchat-io/openchat/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	purgeInterval   = time.Hour
)

// Hub is the main hub process.
type Hub struct {
	cfg      *config.Config
	store    store.Store
	binder   auth.Binder
	bus      *eventbus.Bus
	closers  []io.Closer
	router   *router.Router
	api      *api.Server
	logger   *slog.Logger
	listener net.Listener
}

// New creates a new hub from configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	h := &Hub{
		cfg:    cfg,
		store:  db,
		bus:    eventbus.New(),
		logger: logger.With("component", "hub"),
	}

	binder, err := auth.NewBinder(cfg.Auth, db)
	if err != nil {
		h.cleanup()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}
	h.binder = binder
	if c, ok := binder.(io.Closer); ok {
		h.closers = append(h.closers, c)
	}
	if err := binder.Bootstrap(ctx); err != nil {
		h.cleanup()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	backend, err := h.presenceBackend(ctx)
	if err != nil {
		h.cleanup()
		return nil, fmt.Errorf("init presence: %w", err)
	}
	presenceSvc := presence.New(backend, h.bus, logger)
	// No connection exists yet, so anyone still flagged online was left behind
	// by a previous process.
	if err := presenceSvc.Reset(ctx); err != nil {
		h.logger.Warn("stale presence not cleared", "error", err)
	}
	chatSvc := chat.NewService(db, presenceSvc, logger)

	h.router = router.New(binder, chatSvc, presenceSvc, logger, router.Options{
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		CookieName:        cfg.Auth.CookieName,
		ServiceTimeout:    cfg.Router.ServiceTimeout.Duration,
		ConversationLoad:  cfg.Router.ConversationLoad,
		MaxMessageBytes:   cfg.Router.MaxMessageBytes,
		MaxConnsPerUser:   cfg.Router.MaxConnsPerUser,
		MessagesPerSecond: cfg.Router.MessagesPerSecond,
		MessageBurst:      cfg.Router.MessageBurst,
	})
	h.api = api.NewServer(db, binder, h.router, cfg, logger)

	h.warnInsecureConfig()
	return h, nil
}

// presenceBackend picks where online status is recorded.
func (h *Hub) presenceBackend(ctx context.Context) (presence.Backend, error) {
	switch h.cfg.Presence.Driver {
	case "redis":
		rdb, err := presence.DialRedis(ctx, h.cfg.Presence)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, rdb)
		h.logger.Info("presence backed by redis", "addr", h.cfg.Presence.RedisAddr)
		return presence.NewRedisBackend(rdb, h.cfg.Presence.KeyPrefix)
	default:
		return presence.NewStoreBackend(h.store), nil
	}
}

func (h *Hub) warnInsecureConfig() {
	for _, origin := range h.cfg.Server.AllowedOrigins {
		if origin == "*" {
			h.logger.Warn("allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}
	if h.binder.Name() == "builtin" && !h.cfg.Auth.CookieSecure {
		h.logger.Warn("session cookie is not marked Secure (development only)")
	}
	if dir := h.cfg.Server.UIStaticDir; dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			h.logger.Warn("UI static directory does not exist", "path", dir)
		}
	}
}

// Router returns the hub's message router.
func (h *Hub) Router() *router.Router {
	return h.router
}

// Handler returns the hub's HTTP handler.
func (h *Hub) Handler() http.Handler {
	return h.api.Handler()
}

// Listen binds the configured address. Run calls it when the hub has not been
// bound yet.
func (h *Hub) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", h.cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", h.cfg.Server.Addr, err)
	}
	h.listener = ln
	return ln.Addr(), nil
}

// Run serves HTTP and runs the background workers until ctx is canceled or
// one of them fails, then shuts everything down.
func (h *Hub) Run(ctx context.Context) error {
	defer h.cleanup()

	if h.listener == nil {
		if _, err := h.Listen(); err != nil {
			return err
		}
	}
	srv := &http.Server{
		Handler:           h.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	h.api.StartBackgroundTasks(gctx)

	g.Go(func() error {
		h.logger.Info("hub listening", "addr", h.listener.Addr().String())
		var err error
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			err = srv.ServeTLS(h.listener, h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			err = srv.Serve(h.listener)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		h.logger.Info("shutting down hub gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		}
		// Hijacked WebSocket connections are not closed by Shutdown.
		for c := range h.router.Registry().All() {
			_ = c.Transport.Close()
		}
		return nil
	})

	if retention := h.cfg.Storage.Retention.Duration; retention > 0 {
		g.Go(func() error {
			h.runSessionPurger(gctx, retention)
			return nil
		})
	}

	if h.cfg.Router.BroadcastPresence {
		events := h.bus.Subscribe(eventbus.UserOnline, eventbus.UserOffline)
		g.Go(func() error {
			h.router.BroadcastPresence(gctx, events)
			return nil
		})
	}

	err := g.Wait()
	h.logger.Info("shutdown complete")
	if err == nil {
		return ctx.Err()
	}
	return err
}

// runSessionPurger deletes sessions that expired more than retention ago.
func (h *Hub) runSessionPurger(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.purgeSessions(ctx, retention)
		}
	}
}

func (h *Hub) purgeSessions(ctx context.Context, retention time.Duration) {
	n, err := h.store.PurgeExpiredSessions(ctx, time.Now().Add(-retention))
	if err != nil {
		h.logger.Warn("retention purge: sessions failed", "error", err)
		return
	}
	if n > 0 {
		h.logger.Info("retention purge: deleted expired sessions", "count", n)
	}
}

func (h *Hub) cleanup() {
	h.bus.Close()
	for i := len(h.closers) - 1; i >= 0; i-- {
		_ = h.closers[i].Close()
	}
	h.closers = nil
	_ = h.store.Close()
}
