package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-rpc/internal/governance"
	"github.com/polisai/polis-rpc/pkg/domain"
	"github.com/polisai/polis-rpc/pkg/policy"
	"github.com/polisai/polis-rpc/pkg/registry"
	"github.com/polisai/polis-rpc/pkg/telemetry"
)

// Config holds socket listener settings.
type Config struct {
	Socket          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int64
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuthorizer installs the policy gate consulted before every call.
func WithAuthorizer(a policy.Authorizer) Option {
	return func(s *Server) {
		if a != nil {
			s.authorizer = a
		}
	}
}

// WithRateLimiter throttles calls per method. Limits may be reconfigured on
// the limiter while the server runs.
func WithRateLimiter(rl *governance.RateLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server accepts one JSON request per Unix socket connection, dispatches it
// through the registry, writes one JSON response, and closes the connection.
type Server struct {
	cfg        Config
	registry   *registry.Registry
	authorizer policy.Authorizer
	limiter    *governance.RateLimiter
	metrics    *Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Server. Zero timeouts and limits fall back to defaults.
func New(cfg Config, reg *registry.Registry, opts ...Option) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 20
	}
	if reg == nil {
		reg = registry.Default()
	}

	s := &Server{
		cfg:        cfg,
		registry:   reg,
		authorizer: policy.AllowAll{},
		logger:     slog.Default(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the Unix socket. A stale socket file from a previous run is
// removed first; any other file at the path is left alone and reported.
func (s *Server) Listen() error {
	if strings.TrimSpace(s.cfg.Socket) == "" {
		return fmt.Errorf("%w: socket path is required", domain.ErrConfigInvalid)
	}
	if err := removeStaleSocket(s.cfg.Socket); err != nil {
		return err
	}
	if dir := filepath.Dir(s.cfg.Socket); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create socket directory: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.cfg.Socket)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Socket, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Listening", "socket", s.cfg.Socket)
	return nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat socket path: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%w: %s exists and is not a socket", domain.ErrConfigInvalid, path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// Addr returns the bound socket path, or an empty string before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens if needed and serves until ctx is cancelled or the listener
// fails. Cancellation stops the server gracefully and returns nil. A failed
// listener is also stopped, so the socket file is removed either way.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	bound := s.listener != nil
	s.mu.Unlock()
	if !bound {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.acceptLoop(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Join(fmt.Errorf("accept loop: %w", err), s.Stop(context.Background()))
		}
		return nil
	case <-ctx.Done():
		return s.Stop(context.Background())
	}
}

func (s *Server) acceptLoop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Warn("Accept timeout, retrying", "error", err)
				continue
			}
			return err
		}

		s.conns.Add(1)
		go s.serveConn(ctx, conn)
	}
}

// Stop closes the listener and waits for in-flight connections until ctx
// expires. The socket file is removed.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping RPC server", "socket", s.cfg.Socket)
		close(s.stopCh)

		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()
		if ln != nil {
			if closeErr := ln.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				err = closeErr
			}
		}

		done := make(chan struct{})
		go func() {
			s.conns.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("Shutdown deadline reached with connections in flight")
			err = errors.Join(err, ctx.Err())
		}

		if ln != nil {
			if removeErr := os.Remove(s.cfg.Socket); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, removeErr)
			}
		}
	})
	return err
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()

	connID := uuid.NewString()
	logger := s.logger.With("conn_id", connID)

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	req, err := readRequest(conn, s.cfg.MaxRequestBytes)

	var resp domain.Response
	if err != nil {
		logger.Warn("Rejecting unreadable request", "error", err)
		s.metrics.RecordCall("unknown", domain.KindOf(err), 0)
		resp = domain.NewErrorResponse(nil, err)
	} else {
		resp = s.Handle(ctx, req, connID)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		logger.Error("Failed to write response", "error", err)
	}
}

// readRequest decodes exactly one JSON request from r, reading at most limit
// bytes. Numbers are kept as json.Number so integer parameters are exact.
func readRequest(r io.Reader, limit int64) (domain.Request, error) {
	lr := &io.LimitedReader{R: r, N: limit}
	dec := json.NewDecoder(lr)
	dec.UseNumber()

	var req domain.Request
	if err := dec.Decode(&req); err != nil {
		if lr.N <= 0 {
			return domain.Request{}, domain.MalformedRequestf("request exceeds %d bytes", limit)
		}
		return domain.Request{}, domain.MalformedRequestf("decode request: %v", err)
	}
	return req, nil
}

// Handle dispatches a decoded request and builds its response. It never
// panics on caller input; every failure becomes an error response.
func (s *Server) Handle(ctx context.Context, req domain.Request, connID string) domain.Response {
	start := time.Now()
	ctx, span := telemetry.StartCallSpan(ctx, connID)
	defer span.End()

	label := s.methodLabel(req.Method)
	telemetry.AnnotateCall(span, label, len(req.Params))

	result, resultType, err := s.dispatch(ctx, req, connID)

	var resp domain.Response
	if err == nil {
		resp, err = domain.NewResultResponse(req.ID, resultType, result)
	}
	duration := time.Since(start)

	var kind domain.ErrorKind
	if err != nil {
		kind = domain.KindOf(err)
		resp = domain.NewErrorResponse(req.ID, err)
		telemetry.RecordCallError(span, string(kind), err)
	}

	telemetry.RecordCall(ctx, telemetry.CallMetrics{Method: label, ErrorKind: string(kind), Duration: duration})
	s.metrics.RecordCall(label, kind, duration)
	s.logCall(ctx, connID, req, label, kind, duration, err)

	return resp
}

func (s *Server) dispatch(ctx context.Context, req domain.Request, connID string) (any, string, error) {
	if strings.TrimSpace(req.Method) == "" {
		return nil, "", domain.MalformedRequestf("method is required")
	}

	op, err := s.registry.Get(req.Method)
	if err != nil {
		return nil, "", err
	}
	if err := op.CheckTypes(req.ParamTypes); err != nil {
		return nil, "", err
	}
	if !s.limiter.Allow(op.Name) {
		return nil, "", domain.RateLimitedError(op.Name)
	}

	decision, err := s.authorizer.Authorize(ctx, policy.Input{
		Method:     op.Name,
		Params:     req.Params,
		ParamTypes: req.ParamTypes,
		ConnID:     connID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("authorize %s: %w", op.Name, err)
	}
	telemetry.RecordPolicyDecision(trace.SpanFromContext(ctx), decision)
	if !decision.Allow {
		return nil, "", domain.PermissionDeniedError(op.Name, decision.Reason)
	}

	result, err := op.Call(req.Params...)
	if err != nil {
		return nil, "", err
	}
	return result, string(op.Result), nil
}

// methodLabel bounds metric cardinality to registered names.
func (s *Server) methodLabel(method string) string {
	if _, err := s.registry.Get(method); err != nil {
		return "unknown"
	}
	return method
}

func (s *Server) logCall(ctx context.Context, connID string, req domain.Request, label string, kind domain.ErrorKind, duration time.Duration, err error) {
	attrs := []slog.Attr{
		slog.String("conn_id", connID),
		slog.String("method", label),
		slog.Duration("duration", duration),
	}
	if len(req.ID) > 0 {
		attrs = append(attrs, slog.String("rpc_id", string(req.ID)))
	}
	if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
		attrs = append(attrs, slog.String("trace_id", span.TraceID().String()))
	}

	switch {
	case err == nil:
		s.logger.LogAttrs(ctx, slog.LevelDebug, "Call served", attrs...)
	case kind == domain.KindInternal:
		attrs = append(attrs, slog.String("error_kind", string(kind)), slog.String("error", err.Error()))
		s.logger.LogAttrs(ctx, slog.LevelError, "Call failed", attrs...)
	default:
		attrs = append(attrs, slog.String("error_kind", string(kind)), slog.String("error", err.Error()))
		s.logger.LogAttrs(ctx, slog.LevelInfo, "Call rejected", attrs...)
	}
}
