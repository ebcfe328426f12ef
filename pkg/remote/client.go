package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/igorsilveira/warden/pkg/sandbox"
	"github.com/igorsilveira/warden/pkg/telemetry"
)

const (
	backendName = "remote"

	defaultTimeout = 5 * time.Minute

	// Headroom over a command's wall time for the service's grace period,
	// output drain, and the round trip.
	wallTimeMargin = 30 * time.Second

	// Base64 inflates payloads by a third; leave room for two full streams.
	maxResponseBytes = 64 << 20
	maxErrorBytes    = 64 << 10
)

type ClientConfig struct {
	URL    string
	APIKey string

	// Timeout bounds each request (default 5m). A command whose wall time
	// plus a 30s margin is longer gets that instead.
	Timeout time.Duration

	HTTPClient *http.Client
}

// Executor forwards requests to a sandboxing service. It receives the
// quoted command line alongside the argv.
type Executor struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

func NewExecutor(cfg ClientConfig, logger *slog.Logger) (*Executor, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote: service URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{
		url:     strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		client:  client,
		logger:  telemetry.Component(logger, "remote"),
	}, nil
}

func (e *Executor) Name() string { return backendName }

func (e *Executor) Form() sandbox.ArgForm { return sandbox.FormCommandLine }

func (e *Executor) Execute(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	if req.Spec == nil {
		return nil, fmt.Errorf("%w: nil spec", sandbox.ErrInvalidSpec)
	}
	if err := req.Spec.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("remote: marshaling request: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, e.requestTimeout(req.Spec.Limits.WallTime))
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.url+executePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	started := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		telemetry.Metrics.RemoteRequests.WithLabelValues("error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return interrupted(ctxErr, time.Since(started)), nil
		}
		return e.unavailable(started, fmt.Errorf("sending request: %w", err))
	}
	defer resp.Body.Close()
	telemetry.Metrics.RemoteRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out ExecuteResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
			return e.unavailable(started, fmt.Errorf("decoding response: %w", err))
		}
		res := out.decode(backendName)
		e.logger.Debug("remote execution finished",
			slog.Int("exit_code", res.ExitCode),
			slog.String("reason", res.Reason.String()),
			slog.Duration("round_trip", time.Since(started)),
		)
		return res, nil
	case resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return e.unavailable(started, fmt.Errorf("service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
	default:
		return nil, decodeError(resp)
	}
}

func (e *Executor) requestTimeout(wall time.Duration) time.Duration {
	if t := wall + wallTimeMargin; wall > 0 && t > e.timeout {
		return t
	}
	return e.timeout
}

// Health checks that the service answers its liveness probe.
func (e *Executor) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("remote: creating request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", sandbox.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", sandbox.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

func (e *Executor) unavailable(started time.Time, cause error) (*sandbox.Result, error) {
	e.logger.Warn("remote backend unavailable",
		slog.String("url", e.url),
		slog.String("error", cause.Error()),
	)
	res := &sandbox.Result{
		ExitCode: sandbox.ExitUnknown,
		Stdout:   []byte{},
		Stderr:   []byte{},
		Reason:   sandbox.BackendUnavailable,
		Duration: time.Since(started),
		Backend:  backendName,
	}
	return res, fmt.Errorf("%w: %w", sandbox.ErrBackendUnavailable, cause)
}

func interrupted(ctxErr error, elapsed time.Duration) *sandbox.Result {
	reason := sandbox.Killed
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		reason = sandbox.TimedOut
	}
	return &sandbox.Result{
		ExitCode: sandbox.ExitUnknown,
		Stdout:   []byte{},
		Stderr:   []byte{},
		Reason:   reason,
		Duration: elapsed,
		Backend:  backendName,
	}
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error.Kind == "" {
		return fmt.Errorf("remote: service returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return fmt.Errorf("remote: %w", sandbox.KindError(body.Error.Kind, body.Error.Message))
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
