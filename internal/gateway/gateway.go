// ABOUTME: Gateway orchestrator: websocket listener, relay engine, and liveness monitor.
// ABOUTME: Handles connection upgrade, header credential auth, and the per-peer read loop.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/hub-relay/internal/config"
	"github.com/2389/hub-relay/internal/peer"
	"github.com/2389/hub-relay/internal/relay"
	"github.com/2389/hub-relay/internal/store"
	"github.com/2389/hub-relay/internal/wire"
)

// CredentialHeader carries the peer's shared secret on the upgrade request.
const CredentialHeader = "X-Gateway-Key"

// SandboxPath is the request path that marks a connection as the sandbox
// variant of its peer identity.
const SandboxPath = "/dev"

// authRejectReason is sent in the close frame when the credential does not
// match any configured peer.
const authRejectReason = "You are not allowed to connect to this gateway."

// Gateway ties the websocket listener to the relay engine and the liveness
// monitor. It owns the pending-message store and shuts everything down
// together.
type Gateway struct {
	config     *config.Config
	registry   *peer.Registry
	auth       *peer.Authenticator
	engine     *relay.Engine
	monitor    *peer.Monitor
	store      store.Store
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// New creates a Gateway from the given configuration. The pending-message
// store is opened immediately; the listener starts in Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening pending store: %w", err)
	}

	registry := peer.NewRegistry(logger)
	auth := peer.NewAuthenticator(cfg.Peers)

	engine := relay.NewEngine(registry, st, auth, relay.Options{
		RequestTimeout:       cfg.Relay.RequestTimeout,
		TimeoutSweepInterval: cfg.Relay.SweepInterval,
		RedeliveryInterval:   cfg.Relay.RedeliveryInterval,
		PendingMaxAge:        cfg.Relay.PendingMaxAge,
	}, logger)

	monitor := peer.NewMonitor(registry, cfg.Relay.PingInterval, cfg.Relay.HeartbeatTimeout, logger)

	gw := &Gateway{
		config:   cfg,
		registry: registry,
		auth:     auth,
		engine:   engine,
		monitor:  monitor,
		store:    st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", gw.handleConnect)
	mux.HandleFunc(SandboxPath, gw.handleConnect)
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Engine exposes the relay facade for collaborators (command handlers,
// HTTP glue) and for registering inbound event handlers.
func (g *Gateway) Engine() *relay.Engine {
	return g.engine
}

// Run starts the relay sweeps, the liveness monitor, and the websocket
// listener, then blocks until ctx is canceled or a server error occurs.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "listen_addr", g.config.Server.ListenAddr)

	go g.engine.Run(ctx)
	go g.monitor.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
		return nil
	case err := <-errCh:
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown closes connected peers, stops the listener, and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	for _, rec := range g.registry.Snapshot() {
		_ = rec.Conn.Close(websocket.CloseGoingAway, "gateway shutting down")
	}

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleConnect upgrades the request to a websocket, authenticates the
// credential header, and runs the peer's read loop until the socket dies.
func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	credential := r.Header.Get(CredentialHeader)
	sandbox := r.URL.Path == SandboxPath

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newWSConn(ws)

	identity, ok := g.auth.Identify(credential, sandbox)
	if !ok {
		g.logger.Warn("rejected connection", "remote", r.RemoteAddr, "sandbox", sandbox)
		_ = conn.Close(websocket.ClosePolicyViolation, authRejectReason)
		return
	}

	connID := uuid.NewString()

	ws.SetPongHandler(func(string) error {
		g.registry.Heartbeat(identity)
		return nil
	})

	g.registry.Register(identity, conn)

	if err := conn.WriteEnvelope(wire.AuthAck()); err != nil {
		g.logger.Warn("auth ack failed", "peer", identity, "error", err)
		g.registry.RemoveConn(identity, conn)
		_ = ws.Close()
		return
	}

	g.logger.Info("connection authenticated",
		"peer", identity, "conn_id", connID, "remote", r.RemoteAddr, "sandbox", sandbox)

	g.readLoop(identity, connID, conn, ws)
}

// readLoop feeds inbound frames to the relay engine. It returns when the
// socket errors or closes; the registry entry is removed only if this
// connection still owns it, so a reconnect is never evicted by its
// predecessor's dying read loop.
func (g *Gateway) readLoop(identity peer.Identity, connID string, conn *wsConn, ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			g.registry.RemoveConn(identity, conn)
			g.logger.Info("peer disconnected", "peer", identity, "conn_id", connID, "error", err)
			return
		}
		g.engine.HandleFrame(identity, raw)
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one peer is connected.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	peers := g.registry.Connected(false)
	if len(peers) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no peers connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d peers)", len(peers))
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
