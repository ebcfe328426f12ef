package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/igorsilveira/warden/pkg/sandbox"
	"github.com/igorsilveira/warden/pkg/shell"
	"github.com/igorsilveira/warden/pkg/telemetry"
)

const (
	defaultShell   = "/bin/sh"
	maxRequestBody = 32 << 20
)

type ServerConfig struct {
	Bind      string
	Port      int
	AuthToken string
	Factory   *shell.Factory

	// Shell interprets command lines. Defaults to /bin/sh.
	Shell string

	// Floor is OR-ed into every request's restrictions.
	Floor sandbox.Restriction

	Logger *slog.Logger
}

// Server is the sandboxing service the remote Executor talks to.
type Server struct {
	server    *http.Server
	router    *chi.Mux
	factory   *shell.Factory
	shell     string
	floor     sandbox.Restriction
	authToken string
	logger    *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	s := &Server{
		router:    r,
		factory:   cfg.Factory,
		shell:     cfg.Shell,
		floor:     cfg.Floor,
		authToken: cfg.AuthToken,
		logger:    telemetry.Component(cfg.Logger, "server"),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              resolveAddr(cfg.Bind, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		if s.authToken != "" {
			r.Use(s.authMiddleware)
		}
		r.Post(executePath, s.handleExecute)
	})
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("remote: listen: %w", err)
	}
	s.logger.Info("sandbox service listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	s.logger.Info("sandbox service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.factory == nil || !s.factory.Available() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Errorf("%w: decoding request: %w", sandbox.ErrInvalidSpec, err))
		return
	}

	cmd, err := s.command(req)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}

	ctx := telemetry.WithLogger(r.Context(),
		s.logger.With(slog.String("request_id", middleware.GetReqID(r.Context()))))
	res, err := cmd.Execute(ctx)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}

	telemetry.Metrics.ServerRequests.WithLabelValues(executePath, strconv.Itoa(http.StatusOK)).Inc()
	writeJSON(w, http.StatusOK, encodeResult(res))
}

func (s *Server) command(req ExecuteRequest) (*shell.Command, error) {
	if s.factory == nil {
		return nil, fmt.Errorf("%w: no factory configured", sandbox.ErrExecutionUnavailable)
	}
	restrictions := sandbox.Restriction(req.Restrictions)
	if unknown := restrictions.Unknown(); unknown != 0 {
		return nil, fmt.Errorf("%w: unknown restriction bits %#x", sandbox.ErrInvalidSpec, uint32(unknown))
	}
	if err := req.Limits.validate(); err != nil {
		return nil, err
	}

	var cmd *shell.Command
	if strings.TrimSpace(req.Command) != "" {
		cmd = s.factory.Command(s.shell, "-c", req.Command)
	} else {
		cmd = s.factory.Command(req.Argv...)
	}
	cmd.Environment(req.Env).
		ExactEnvironment(req.ExactEnv).
		WorkingDirectory(req.Dir).
		WithLimits(req.Limits.decode().Over(s.factory.Limits())).
		Restrict(restrictions | s.floor).
		IncludeStderr(req.MergeStderr).
		OutputCeiling(req.OutputCeiling)
	if req.Input != nil {
		cmd.Input(req.Input)
	}
	return cmd, nil
}

func (w WireLimits) validate() error {
	for name, v := range map[string]int64{
		"cpu_time_ms":  w.CPUTimeMS,
		"wall_time_ms": w.WallTimeMS,
		"memory":       w.Memory,
		"file_size":    w.FileSize,
		"output":       w.Output,
	} {
		if v < 0 {
			return fmt.Errorf("%w: %s is negative", sandbox.ErrInvalidLimit, name)
		}
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	telemetry.Metrics.ServerRequests.WithLabelValues(executePath, strconv.Itoa(status)).Inc()
	s.logger.Warn("execute request failed",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, errorBody(err))
}

func statusFor(err error) int {
	switch sandbox.ErrorKind(err) {
	case sandbox.KindInvalidSpec, sandbox.KindInvalidLimit:
		return http.StatusBadRequest
	case sandbox.KindSpawnFailed, sandbox.KindSandboxSetupFailed:
		return http.StatusUnprocessableEntity
	case sandbox.KindExecutionUnavailable:
		return http.StatusServiceUnavailable
	case sandbox.KindBackendUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header || token != s.authToken {
			writeJSON(w, http.StatusUnauthorized, ErrorBody{Error: WireError{Kind: "unauthorized", Message: "unauthorized"}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// IsLoopbackBind reports whether bind only accepts connections from this host.
func IsLoopbackBind(bind string) bool {
	host, _, err := net.SplitHostPort(resolveAddr(bind, 0))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func resolveAddr(bind string, port int) string {
	var host string
	switch bind {
	case "lan", "all":
		host = "0.0.0.0"
	case "loopback", "":
		host = "127.0.0.1"
	default:
		host = bind
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
