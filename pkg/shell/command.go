package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/igorsilveira/warden/pkg/sandbox"
	"github.com/igorsilveira/warden/pkg/telemetry"
)

// Command accumulates an invocation. Setters return the receiver and the
// last call wins unless noted. A Command is not safe for concurrent use,
// but every Execute runs a frozen copy, so a Command may be executed
// repeatedly.
type Command struct {
	factory      *Factory
	argv         []string
	env          map[string]string
	exactEnv     bool
	dir          string
	input        []byte
	limits       sandbox.Limits
	restrictions sandbox.Restriction
	mergeStderr  bool
	ceiling      int64
	err          error
}

// Params appends to argv. Each argument stays one argv element; nothing is
// split or interpreted.
func (c *Command) Params(args ...string) *Command {
	c.argv = append(c.argv, args...)
	return c
}

// Input sets the payload written to stdin. Without it stdin is the null
// device.
func (c *Command) Input(payload []byte) *Command {
	c.input = slices.Clone(payload)
	if c.input == nil {
		c.input = []byte{}
	}
	return c
}

func (c *Command) InputString(payload string) *Command {
	return c.Input([]byte(payload))
}

// Environment overlays variables. Calls merge.
func (c *Command) Environment(env map[string]string) *Command {
	if c.env == nil {
		c.env = make(map[string]string, len(env))
	}
	maps.Copy(c.env, env)
	return c
}

// ExactEnvironment makes the child see only the variables set with
// Environment.
func (c *Command) ExactEnvironment(exact bool) *Command {
	c.exactEnv = exact
	return c
}

func (c *Command) WorkingDirectory(dir string) *Command {
	c.dir = dir
	return c
}

// Limits merges limit strings keyed by time, walltime, memory, filesize
// and output. An invalid key or value is reported by Err and Execute.
func (c *Command) Limits(m map[string]string) *Command {
	l, err := c.limits.Merge(m)
	if err != nil {
		c.setErr(err)
		return c
	}
	c.limits = l
	return c
}

// WithLimits replaces the limits wholesale.
func (c *Command) WithLimits(l sandbox.Limits) *Command {
	c.limits = l
	return c
}

// Restrict replaces the restriction set.
func (c *Command) Restrict(r sandbox.Restriction) *Command {
	c.restrictions = r
	return c
}

// IncludeStderr merges stderr into stdout.
func (c *Command) IncludeStderr(merge bool) *Command {
	c.mergeStderr = merge
	return c
}

// OutputCeiling caps each captured stream.
func (c *Command) OutputCeiling(n int64) *Command {
	c.ceiling = n
	return c
}

func (c *Command) setErr(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Err returns the first error recorded by a setter.
func (c *Command) Err() error {
	return c.err
}

// Spec freezes a copy of the accumulated invocation.
func (c *Command) Spec() (*sandbox.Spec, error) {
	if c.err != nil {
		return nil, c.err
	}
	spec := &sandbox.Spec{
		Argv:          c.argv,
		Env:           c.env,
		ExactEnv:      c.exactEnv,
		Dir:           c.dir,
		Input:         c.input,
		Limits:        c.limits,
		Restrictions:  c.restrictions,
		MergeStderr:   c.mergeStderr,
		OutputCeiling: c.ceiling,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec.Clone(), nil
}

// CommandLine renders argv as a POSIX command line.
func (c *Command) CommandLine() string {
	return Join(c.argv)
}

// Execute runs the command and blocks until it has exited and its output
// is drained. Timeouts and kills are reported in the Result; an error
// means nothing usable ran.
func (c *Command) Execute(ctx context.Context) (*sandbox.Result, error) {
	f := c.factory
	if c.err != nil {
		return nil, c.err
	}
	if f == nil || !f.Available() {
		return nil, fmt.Errorf("%w: %s", sandbox.ErrExecutionUnavailable, c.unavailableReason())
	}

	spec, err := c.Spec()
	if err != nil {
		return nil, err
	}

	exe := f.cfg.Executor
	req := sandbox.Request{Spec: spec}
	if exe.Form() == sandbox.FormCommandLine {
		req.CommandLine = Join(spec.Argv)
	}

	ctx, span := telemetry.StartSpan(ctx, "shell.execute",
		attribute.String("backend", exe.Name()),
		attribute.String("program", spec.Argv[0]),
		attribute.String("restrictions", spec.Restrictions.String()),
	)
	defer span.End()

	telemetry.Metrics.ActiveExecutions.Inc()
	started := time.Now()
	res, err := exe.Execute(ctx, req)
	telemetry.Metrics.ActiveExecutions.Dec()

	c.observe(ctx, exe.Name(), spec, started, res, err)

	if err != nil {
		telemetry.FailSpan(span, err, sandbox.ErrorKind(err))
		return res, err
	}
	span.SetAttributes(
		attribute.String("reason", res.Reason.String()),
		attribute.Int("exit_code", res.ExitCode),
	)
	return res, nil
}

func (c *Command) unavailableReason() string {
	switch {
	case c.factory == nil:
		return "command has no factory"
	case IsDisabled():
		return "process spawning is not available on this platform"
	case c.factory.cfg.Disabled:
		return "execution is disabled by configuration"
	default:
		return "no executor configured"
	}
}

func (c *Command) observe(ctx context.Context, backend string, spec *sandbox.Spec, started time.Time, res *sandbox.Result, execErr error) {
	f := c.factory
	elapsed := time.Since(started)
	logger := telemetry.ContextLogger(ctx, f.logger)

	m := telemetry.Metrics
	m.ExecutionDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	switch {
	case execErr != nil:
		kind := sandbox.ErrorKind(execErr)
		m.ExecutionsTotal.WithLabelValues(backend, kind).Inc()
		if errors.Is(execErr, sandbox.ErrSandboxSetupFailed) || errors.Is(execErr, sandbox.ErrSpawnFailed) {
			m.SetupFailures.WithLabelValues(kind).Inc()
		}
		logger.Warn("shell execution failed",
			slog.String("backend", backend),
			slog.String("command", preview(spec.Argv)),
			slog.String("error", execErr.Error()),
		)
	case res != nil:
		m.ExecutionsTotal.WithLabelValues(backend, res.Reason.String()).Inc()
		if res.StdoutTruncated {
			m.OutputTruncated.WithLabelValues("stdout").Inc()
		}
		if res.StderrTruncated {
			m.OutputTruncated.WithLabelValues("stderr").Inc()
		}
		logger.Debug("shell execution finished",
			slog.String("backend", backend),
			slog.String("command", preview(spec.Argv)),
			slog.Int("exit_code", res.ExitCode),
			slog.String("reason", res.Reason.String()),
			slog.Duration("duration", elapsed),
		)
	}

	if f.cfg.Recorder == nil {
		return
	}
	rec := Execution{
		Argv:         spec.Argv,
		Dir:          spec.Dir,
		Restrictions: spec.Restrictions,
		Backend:      backend,
		Started:      started,
		Result:       res,
		Err:          execErr,
	}
	if err := f.cfg.Recorder.RecordExecution(ctx, rec); err != nil {
		logger.Warn("recording execution failed", slog.String("error", err.Error()))
	}
}

const previewLimit = 120

func preview(argv []string) string {
	s := Join(argv)
	if len(s) > previewLimit {
		s = s[:previewLimit] + "..."
	}
	return s
}
