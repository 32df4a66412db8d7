// Package daemon wires together every long-lived component of a running
// machine: the registry of open sessions, the subscription hub, the
// websocket listener, the control socket, the mDNS advertiser and the audit
// trail. Grounded on the teacher's internal/daemon/daemon.go goroutine/errCh
// wiring and its cmd/wt "start" subcommand's listen/shutdown shape.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/wormhole/internal/audit"
	"github.com/ehrlich-b/wormhole/internal/config"
	"github.com/ehrlich-b/wormhole/internal/controlsocket"
	"github.com/ehrlich-b/wormhole/internal/discovery"
	"github.com/ehrlich-b/wormhole/internal/driver/claudecli"
	"github.com/ehrlich-b/wormhole/internal/hub"
	"github.com/ehrlich-b/wormhole/internal/registry"
	"github.com/ehrlich-b/wormhole/internal/session"
	"github.com/ehrlich-b/wormhole/internal/wsendpoint"
)

// ServerVersion is reported in the websocket handshake's welcome frame and
// the control socket's status response.
const ServerVersion = "0.1.0"

const shutdownGrace = 5 * time.Second

// Run constructs every component from cfg and blocks until ctx is cancelled
// or a fatal error occurs, then shuts down cleanly. Run also installs its
// own SIGTERM/SIGINT handling, so a caller only needs to pass a
// context.Background()-derived ctx for cancellation it triggers itself.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	// The audit trail is purely additive (SPEC_FULL.md 4.10): audit.enabled=false
	// must leave auditLog nil, and every Append call site below guards against
	// that rather than opening a store nobody asked for.
	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		if cfg.Audit.DBPath != "" && cfg.Audit.DBPath != ":memory:" {
			if err := config.EnsureDataDir(filepath.Dir(cfg.Audit.DBPath)); err != nil {
				return fmt.Errorf("daemon: ensure db dir: %w", err)
			}
		}
		store, err := audit.Open(cfg.Audit.DBPath)
		if err != nil {
			return fmt.Errorf("daemon: open audit store: %w", err)
		}
		auditLog = audit.NewLog(store, logger)
		defer auditLog.Close()
	}

	// Registry and Hub are mutually referential: the registry's session
	// factory needs the hub as the session's event Publisher, but the hub
	// needs the registry (as a SessionProvider) to answer welcome/sync
	// requests. h is declared first and assigned right after New(reg); the
	// factory closure captures the variable, not its value, so this is safe
	// as long as no session opens before the assignment below runs.
	var h *hub.Hub
	reg := registry.New(func(name, directory string) (*session.Session, error) {
		sess, err := session.New(ctx, session.Options{
			Name:         name,
			Directory:    directory,
			Driver:       claudecli.New(),
			Publisher:    h,
			NewRequestID: func() string { return uuid.New().String() },
			RingCapacity: cfg.Session.RingCapacity,
			AuditLog:     auditLog,
		})
		if err != nil {
			return nil, err
		}
		if auditLog != nil {
			auditLog.Append(name, audit.EventSessionOpened, directory)
		}
		return sess, nil
	})
	h = hub.New(reg, cfg.Session.QueueHighWaterMark)

	machineName, err := os.Hostname()
	if err != nil || machineName == "" {
		machineName = "wormhole"
	}

	wsHandler := wsendpoint.New(reg, h, ServerVersion, machineName, logger)
	mux := http.NewServeMux()
	mux.Handle("/", wsHandler)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Daemon.Port),
		Handler: mux,
	}

	advertiser := discovery.New(logger)
	if discovery.Enabled(cfg.Discovery.Enabled, nil) {
		advertiser.Start(cfg.Daemon.Port, cfg.Discovery.ServiceName)
	}
	defer advertiser.Stop()

	svc := newService(reg, auditLog, cfg.Daemon.Port)
	ctlSrv := controlsocket.NewServer(cfg.Daemon.ControlSocket, svc, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)

	go func() {
		logger.Info("control socket listening", "path", cfg.Daemon.ControlSocket)
		errCh <- ctlSrv.ListenAndServe(runCtx)
	}()

	go func() {
		logger.Info("websocket listening", "port", cfg.Daemon.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("daemon: websocket listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			cancel()
			shutdownHTTP(httpSrv, logger)
			return fmt.Errorf("daemon: %w", err)
		}
	}

	cancel()
	shutdownHTTP(httpSrv, logger)

	for _, sess := range reg.List() {
		if auditLog != nil {
			auditLog.Append(sess.Name(), audit.EventSessionClosed, "daemon shutdown")
		}
		if err := reg.Close(sess.Name()); err != nil {
			logger.Warn("error closing session during shutdown", "session", sess.Name(), "error", err)
		}
	}

	return nil
}

func shutdownHTTP(httpSrv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket server shutdown error", "error", err)
	}
}
