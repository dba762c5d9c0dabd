package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/taskpulse/internal/auth"
	"github.com/a-essam23/taskpulse/internal/broadcast"
	"github.com/a-essam23/taskpulse/internal/gateway"
	"github.com/a-essam23/taskpulse/internal/metrics"
	"github.com/a-essam23/taskpulse/internal/presence"
	"github.com/a-essam23/taskpulse/internal/router"
	"github.com/a-essam23/taskpulse/internal/server/middleware"
	"github.com/a-essam23/taskpulse/internal/storage"
	"github.com/a-essam23/taskpulse/pkg/config"
	"github.com/a-essam23/taskpulse/pkg/state"
	"github.com/a-essam23/taskpulse/pkg/state/statemanager"
	"github.com/a-essam23/taskpulse/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	TasksPath    = "/ws/tasks/"
	PresencePath = "/ws/online-users/"
	HealthPath   = "/healthz"

	tokenParam    = "token"
	sessionCookie = "session-token"

	defaultShutdownTimeout = 10 * time.Second
)

type App struct {
	logger    *slog.Logger
	registry  state.Registry
	store     storage.Store
	tracker   *presence.Tracker
	limiter   *router.RateLimiter
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
	http      *http.Server
	handler   http.Handler
	config    *config.Config
	transport transport.ConnectionConfig

	ctx context.Context
}

// NewApp wires the realtime core on top of store. The App does not take ownership of store.
func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, store storage.Store) (*App, error) {
	policy, err := config.CompileTopicPolicy(cfg.Topics)
	if err != nil {
		return nil, err
	}
	limiter, err := router.NewRateLimiter(logger.With(slog.String("component", "rate_limiter")), cfg.Router.RateLimit)
	if err != nil {
		return nil, err
	}

	m := metrics.New(prometheus.NewRegistry())
	registry := statemanager.NewInMemoryManager(logger, policy)
	publisher := broadcast.New(logger, registry, m)
	tracker := presence.NewTracker(logger, store, publisher, m)
	verifier := auth.NewJWTVerifier(cfg.Server.Auth.JWTSecret, store)
	actions := router.NewActionRouter(logger, limiter, m)

	app := &App{
		logger:    logger,
		registry:  registry,
		store:     store,
		tracker:   tracker,
		limiter:   limiter,
		metrics:   m,
		config:    cfg,
		transport: transport.ConnectionConfig(cfg.Transport),
		ctx:       rootCtx,
	}

	taskGateway := gateway.NewTaskGateway(logger, registry, publisher, tracker, store, store, actions)
	presenceGateway := gateway.NewPresenceGateway(logger, registry, tracker)

	// Create a cycler function that closes over the registry and logger.
	connCycler := func(userID string) {
		oldest, found := registry.FindOldestUserConnection(userID)
		if found {
			logger.Info("Cycling connection: closing oldest", slog.String("userID", userID), slog.String("connID", oldest.ID.String()))
			// the close handshake waits on the old peer, so it must not hold up the new one
			go oldest.Transport.Close(&transport.CloseError{Code: websocket.StatusGoingAway, Reason: "replaced by a newer connection"})
		}
	}
	wsChain := func(h http.Handler, sources ...middleware.CredentialSource) http.Handler {
		return middleware.Chain(h,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, verifier, sources...),
			middleware.NewConnectionLimiter(logger, registry.UserConnectionCount, connCycler, cfg.Server.ConnectionLimit, m),
		)
	}

	metricsPath := cfg.Server.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+TasksPath+"{$}", wsChain(app.upgradeHandler(taskGateway, TasksPath),
		middleware.FromQuery(tokenParam)))
	mux.Handle("GET "+PresencePath+"{$}", wsChain(app.upgradeHandler(presenceGateway, PresencePath),
		middleware.FromQuery(tokenParam), middleware.FromCookie(sessionCookie)))
	mux.Handle("GET "+metricsPath, m.Handler())
	mux.HandleFunc("GET "+HealthPath, app.healthHandler)

	app.handler = mux
	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}
	return app, nil
}

// Handler exposes the routes, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Start clears presence left over from a previous run. It must be called before serving.
func (a *App) Start(ctx context.Context) error {
	if err := a.tracker.Reset(ctx); err != nil {
		return err
	}
	a.logger.Info("Presence reset, all users offline")
	return nil
}

func (a *App) Run() error {
	if err := a.Start(a.ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.logger.Error("HTTP server failed", slog.Any("error", err))
		return fmt.Errorf("listen: %w", err)
	case <-a.ctx.Done():
	}
	return a.Shutdown()
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := storage.Probe(ctx, a.store); err != nil {
		a.logger.Warn("Health probe failed", slog.Any("error", err))
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *App) upgradeHandler(gw gateway.Gateway, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
		if !ok {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		connLogger := a.logger.With(
			slog.String("gateway", gw.Name()),
			slog.String("remoteAddr", reqMeta.IP),
		)
		if reqMeta.Identity != nil {
			connLogger = connLogger.With(slog.String("userID", reqMeta.Identity.UserID))
		}

		wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			connLogger.Error("Failed to accept websocket connection", slog.Any("error", err))
			return
		}

		session := gw.NewSession(connLogger)
		if err := session.Authenticate(reqMeta.Identity, reqMeta.AuthErr); err != nil {
			ce := gateway.CloseErrorFor(err)
			connLogger.Warn("Rejecting connection", slog.String("reason", ce.Reason), slog.Any("error", err))
			a.metrics.ConnectionRejected(path, ce.Reason)
			wsConn.Close(ce.Code, ce.Reason)
			session.Close()
			return
		}

		conn := transport.NewConnection(
			r.Context(),
			&a.wg,
			wsConn,
			a.transport,
			nil,
			nil,
			connLogger,
		)
		// register new connection
		stateConn, err := a.registry.RegisterConnection(conn, reqMeta.IP)
		if err != nil {
			connLogger.Error("Failed to register connection state", slog.Any("error", err))
			conn.Close(gateway.CloseErrorFor(err))
			session.Close()
			return
		}
		// associate the authenticated user with the registered connection.
		if err := a.registry.AssociateUser(stateConn.ID, reqMeta.Identity); err != nil {
			connLogger.Error("Failed to associate user with connection", slog.Any("error", err))
			a.drop(conn, session, err)
			return
		}

		conn.SetOnMessageHandler(func(ctx context.Context, _ uuid.UUID, msg []byte) {
			session.HandleMessage(ctx, msg)
		})
		conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
			connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
			session.Close()
			if dErr := a.registry.DeregisterConnection(id); dErr != nil {
				connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
			}
			a.metrics.ConnectionClosed(path)
		})
		a.metrics.ConnectionOpened(path)

		if err := session.Activate(r.Context(), stateConn); err != nil {
			ce := gateway.CloseErrorFor(err)
			connLogger.Warn("Failed to activate session", slog.String("reason", ce.Reason), slog.Any("error", err))
			a.metrics.ConnectionRejected(path, ce.Reason)
			conn.Close(ce)
			return
		}

		connLogger.Info("User connection fully established", slog.String("connID", stateConn.ID.String()))
		conn.Run()
		<-conn.Done()
	}
}

// drop tears down a connection that never reached a session.
func (a *App) drop(conn *transport.Connection, session *gateway.Session, err error) {
	if dErr := a.registry.DeregisterConnection(conn.ID()); dErr != nil {
		a.logger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
	}
	conn.Close(gateway.CloseErrorFor(err))
	session.Close()
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.CloseAll()

	// wait for all connection goroutines to finish their cleanup.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		return fmt.Errorf("waiting for connections to close: %w", shutdownCtx.Err())
	}
	a.limiter.Stop()
	a.logger.Info("Server shut down gracefully.")
	return nil
}

// CloseAll closes every live connection with a going-away status and waits for the close
// handshakes to finish.
func (a *App) CloseAll() {
	a.logger.Info("Closing all active connections...")
	var wg sync.WaitGroup
	for _, conn := range a.registry.AllConnections() {
		wg.Add(1)
		go func(t state.Transport) {
			defer wg.Done()
			t.Close(&transport.CloseError{Code: websocket.StatusGoingAway, Reason: "server shutting down"})
		}(conn.Transport)
	}
	wg.Wait()
}
