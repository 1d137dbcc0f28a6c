// consoled tails the governance console's realtime channel and journals it
// to Postgres. It holds one resilient WebSocket connection, survives network
// drops with backoff, and goes dormant when the session credential is
// revoked.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentgov/consolestream/internal/config"
	"github.com/agentgov/consolestream/internal/connection"
	"github.com/agentgov/consolestream/internal/database"
	"github.com/agentgov/consolestream/internal/journal"
	"github.com/agentgov/consolestream/internal/session"
	"github.com/agentgov/consolestream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/consoled.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting consoled",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"console", cfg.Console.Origin,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the journal database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Session store backed by the token file
	store := session.NewFileStore(cfg.Session.TokenPath, logger)

	// Journal writer
	writer := journal.NewWriter(cfg.Journal, pool, logger)
	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start journal writer", "error", err)
		os.Exit(1)
	}

	// Connection manager
	connCfg := connection.Config{
		Origin:           cfg.Console.Origin,
		Path:             cfg.Console.WSPath,
		ConnectTimeout:   cfg.Connection.ConnectTimeout,
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		PingInterval:     cfg.Connection.PingInterval,
		PongTimeout:      cfg.Connection.PongTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		ReconnectBase:    cfg.Connection.ReconnectBase,
		ReconnectMax:     cfg.Connection.ReconnectMax,
		MaxReconnects:    cfg.Connection.MaxReconnects,
	}
	mgr := connection.NewManager(connCfg, store, logger)
	mgr.OnMessage(func(msg connection.Message) {
		writer.Enqueue(msg, time.Now())
	})

	// Watch the token file for rotation/revocation by a login tool
	watcher := session.NewWatcher(store, cfg.Session.PollInterval, logger)
	watcher.OnRotated(mgr.CredentialRotated)
	watcher.OnRevoked(mgr.CredentialRevoked)
	watcher.Start(ctx)

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: createHealthHandler(pool, mgr, writer, logger),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Dial if a session is already present; otherwise stay down until the
	// watcher sees a token appear.
	if store.Authenticated() {
		mgr.Connect()
	} else {
		logger.Warn("no valid session, waiting for token", "path", cfg.Session.TokenPath)
	}

	logger.Info("consoled running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	watcher.Stop()
	mgr.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	writer.Stop(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	logger.Info("consoled stopped")
}

// pinger is the narrow database surface the health check needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(db pinger, mgr *connection.Manager, writer *journal.Writer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		state := mgr.State()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if err := db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check realtime connection
		conn := map[string]interface{}{
			"status":             state.Status.String(),
			"reconnect_attempts": state.ReconnectAttempts,
			"latency_ms":         state.Latency.Milliseconds(),
		}
		if state.LastError != "" {
			conn["last_error"] = state.LastError
		}
		health.Components["console"] = conn
		if !state.IsConnected() {
			health.Status = "degraded"
		}

		// Journal counters
		stats := writer.Stats()
		health.Components["journal"] = map[string]int64{
			"enqueued":  stats.Enqueued,
			"inserts":   stats.Inserts,
			"conflicts": stats.Conflicts,
			"flushes":   stats.Flushes,
			"errors":    stats.Errors,
			"dropped":   stats.Dropped,
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/connection", func(w http.ResponseWriter, r *http.Request) {
		state := mgr.State()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":             state.Status.String(),
			"is_connected":       state.IsConnected(),
			"is_connecting":      state.IsConnecting(),
			"last_error":         state.LastError,
			"reconnect_attempts": state.ReconnectAttempts,
			"last_ping_sent_at":  state.LastPingSentAt,
			"latency_ms":         state.Latency.Milliseconds(),
			"manual_disconnect":  state.ManualDisconnect,
		})
	})

	return mux
}
