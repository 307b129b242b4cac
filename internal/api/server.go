// Package api exposes the backtest engine over HTTP and gRPC: running a
// backtest, listing strategies, browsing persisted runs and serving
// metrics and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"quantdesk/internal/config"
	"quantdesk/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	svc      *Service
	metrics  *metrics.Metrics
	health   http.Handler
	log      *slog.Logger
	httpAddr string
	grpcAddr string

	mu      sync.Mutex
	httpSrv *http.Server
	grpcSrv *grpc.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithHealth serves h on /healthz.
func WithHealth(h http.Handler) ServerOption {
	return func(s *Server) { s.health = h }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a Server listening on the addresses in cfg.
func NewServer(cfg config.Server, svc *Service, opts ...ServerOption) *Server {
	s := &Server{
		svc:      svc,
		log:      slog.Default(),
		httpAddr: cfg.Addr(),
		grpcAddr: cfg.GRPCAddr(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", s.httpAddr, err)
	}
	grpcLn, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listen grpc %s: %w", s.grpcAddr, err)
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve serves on the given listeners until ctx is cancelled, then shuts
// both servers down gracefully.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	RegisterBacktestServer(grpcSrv, NewBacktestService(s.svc))

	s.mu.Lock()
	s.httpSrv, s.grpcSrv = httpSrv, grpcSrv
	s.mu.Unlock()

	s.log.Info("api server listening", "http", httpLn.Addr().String(), "grpc", grpcLn.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcSrv.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers. gRPC
// streams still open when ctx expires are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpSrv, grpcSrv := s.httpSrv, s.grpcSrv
	s.mu.Unlock()

	var err error
	if httpSrv != nil {
		err = httpSrv.Shutdown(ctx)
	}
	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			grpcSrv.Stop()
		}
	}
	s.log.Info("api server stopped")
	return err
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	started := time.Now()
	resp, err := handler(ctx, req)
	s.log.Debug("grpc call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"elapsed", time.Since(started),
	)
	return resp, err
}
