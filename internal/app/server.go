// Package app assembles the credential service and runs its HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantauth/quantauth/internal/api/httpapi"
	"github.com/quantauth/quantauth/internal/manager"
	"github.com/quantauth/quantauth/internal/passkey"
	"github.com/quantauth/quantauth/internal/platform/timeouts"
	"github.com/quantauth/quantauth/internal/storage/sqlite"
	"github.com/quantauth/quantauth/internal/totp"
)

// Config carries the process-level settings the command line provides.
// Everything else is loaded from the environment by the component configs.
type Config struct {
	Addr          string
	DBPath        string
	SweepInterval time.Duration
}

// Server hosts the credential manager.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store

	sweepInterval time.Duration
	clock         func() time.Time
}

// New creates a configured server listening on cfg.Addr.
func New(cfg Config) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	closeAll := func() {
		_ = listener.Close()
		_ = store.Close()
	}

	passkeyEngine, err := passkey.NewEngine(passkey.LoadConfigFromEnv(), store, store)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build passkey engine: %w", err)
	}

	totpConfig, err := totp.LoadConfigFromEnv()
	if err != nil {
		closeAll()
		return nil, err
	}
	totpEngine, err := totp.NewEngine(totpConfig, store, store)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build totp engine: %w", err)
	}

	managerConfig, err := manager.LoadConfigFromEnv()
	if err != nil {
		closeAll()
		return nil, err
	}
	credentialManager, err := manager.New(managerConfig, passkeyEngine, totpEngine, store)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build credential manager: %w", err)
	}

	apiServer, err := httpapi.NewServer(credentialManager)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("build http api: %w", err)
	}
	mux := http.NewServeMux()
	apiServer.RegisterRoutes(mux)

	sweepInterval := cfg.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	return &Server{
		listener: listener,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store:         store,
		sweepInterval: sweepInterval,
		clock:         time.Now,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startSweeper(serverCtx)

	log.Printf("credential server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// startSweeper periodically removes expired ceremonies and enrollments.
// The sweep is hygiene only; consume and verify re-check expiry on their
// own, so a failed pass is logged and retried, never fatal.
func (s *Server) startSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepExpired(ctx)
			}
		}
	}()
}

func (s *Server) sweepExpired(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, timeouts.Sweep)
	defer cancel()

	now := s.clock().UTC()
	ceremonies, err := s.store.DeleteExpiredCeremonies(sweepCtx, now)
	if err != nil {
		log.Printf("sweep ceremonies: %v", err)
	}
	enrollments, err := s.store.DeleteExpiredTOTPEnrollments(sweepCtx, now)
	if err != nil {
		log.Printf("sweep totp enrollments: %v", err)
	}
	if ceremonies > 0 || enrollments > 0 {
		log.Printf("swept %d expired ceremonies, %d expired enrollments", ceremonies, enrollments)
	}
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}

func openStore(path string) (*sqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "credentials.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}
