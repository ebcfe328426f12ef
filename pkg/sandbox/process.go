package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	defaultGracePeriod  = 2 * time.Second
	defaultDrainTimeout = 2 * time.Second
	defaultShell        = "/bin/sh"
)

type LocalConfig struct {
	// Isolator applies restrictions. When nil, any non-empty restriction
	// set fails with ErrSandboxSetupFailed.
	Isolator Isolator

	GracePeriod     time.Duration // SIGTERM to SIGKILL
	DrainTimeout    time.Duration // wait for pipe EOF after exit
	MaxOutputBytes  int64
	DefaultWallTime time.Duration

	// AllowedDirs restricts working directories. Empty allows any.
	AllowedDirs []string

	BaseEnv func() []string
	Shell   string
}

// LocalExecutor spawns commands directly on this host.
type LocalExecutor struct {
	isolator     Isolator
	grace        time.Duration
	drainTimeout time.Duration
	maxOutput    int64
	wallTime     time.Duration
	allowedDirs  []string
	baseEnv      func() []string
	shell        string
	logger       *slog.Logger
}

func NewLocalExecutor(cfg LocalConfig, logger *slog.Logger) *LocalExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &LocalExecutor{
		isolator:     cfg.Isolator,
		grace:        cfg.GracePeriod,
		drainTimeout: cfg.DrainTimeout,
		maxOutput:    cfg.MaxOutputBytes,
		wallTime:     cfg.DefaultWallTime,
		allowedDirs:  cfg.AllowedDirs,
		baseEnv:      cfg.BaseEnv,
		shell:        cfg.Shell,
		logger:       logger,
	}
	if e.grace <= 0 {
		e.grace = defaultGracePeriod
	}
	if e.drainTimeout <= 0 {
		e.drainTimeout = defaultDrainTimeout
	}
	if e.maxOutput <= 0 {
		e.maxOutput = DefaultMaxOutputBytes
	}
	if e.baseEnv == nil {
		e.baseEnv = os.Environ
	}
	if e.shell == "" {
		e.shell = defaultShell
	}
	return e
}

func (e *LocalExecutor) Name() string {
	if e.isolator != nil {
		return "local+" + e.isolator.Name()
	}
	return "local"
}

func (e *LocalExecutor) Form() ArgForm { return FormVector }

func (e *LocalExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	spec := req.Spec
	if spec == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if spec.Dir != "" {
		if err := CheckPathAllowed(spec.Dir, e.allowedDirs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSandboxSetupFailed, err)
		}
	}

	limits := spec.Limits
	if limits.WallTime == 0 {
		limits.WallTime = e.wallTime
	}

	argv := spec.Argv
	if limits.Rlimited() {
		argv = rlimitWrap(e.shell, limits, argv)
	}

	iso, err := e.isolate(ctx, spec, argv, limits)
	if err != nil {
		return nil, err
	}
	if iso.Cleanup != nil {
		defer iso.Cleanup()
	}

	// A context that is already done never spawns.
	if err := ctx.Err(); err != nil {
		reason := Killed
		if errors.Is(err, context.DeadlineExceeded) {
			reason = TimedOut
		}
		return &Result{ExitCode: ExitUnknown, Stdout: []byte{}, Stderr: []byte{}, Reason: reason, Backend: e.Name()}, nil
	}

	env := spec.Environ(e.baseEnv())
	if iso.Env != nil {
		env = iso.Env
	}
	return e.run(ctx, spec, iso, env, limits)
}

func (e *LocalExecutor) isolate(ctx context.Context, spec *Spec, argv []string, limits Limits) (*Isolation, error) {
	ireq := IsolationRequest{
		Argv:         argv,
		Env:          spec.Env,
		Dir:          spec.Dir,
		Restrictions: spec.Restrictions,
		Limits:       limits,
		HasInput:     spec.Input != nil,
	}
	if e.isolator == nil {
		if spec.Restrictions != RestrictNone {
			return nil, fmt.Errorf("%w: restrictions %s requested but no isolation is configured",
				ErrSandboxSetupFailed, spec.Restrictions)
		}
		return Passthrough(ireq), nil
	}

	iso, err := e.isolator.Prepare(ctx, ireq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSandboxSetupFailed, e.isolator.Name(), err)
	}
	if len(iso.Argv) == 0 {
		return nil, fmt.Errorf("%w: %s returned an empty command", ErrSandboxSetupFailed, e.isolator.Name())
	}
	return iso, nil
}

type pipes struct {
	stdinW, stdoutR, stderrR *os.File
	child                    []*os.File // closed in the parent once the child starts
}

func (p *pipes) closeChild() {
	for _, f := range p.child {
		f.Close()
	}
	p.child = nil
}

func (p *pipes) closeParent() {
	for _, f := range []*os.File{p.stdinW, p.stdoutR, p.stderrR} {
		if f != nil {
			f.Close()
		}
	}
}

func (e *LocalExecutor) openPipes(cmd *exec.Cmd, spec *Spec) (*pipes, error) {
	p := &pipes{}
	fail := func(err error) (*pipes, error) {
		p.closeChild()
		p.closeParent()
		return nil, fmt.Errorf("%w: creating pipes: %w", ErrSpawnFailed, err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return fail(err)
	}
	p.stdoutR = outR
	p.child = append(p.child, outW)
	cmd.Stdout = outW

	if spec.MergeStderr {
		cmd.Stderr = outW
	} else {
		errR, errW, err := os.Pipe()
		if err != nil {
			return fail(err)
		}
		p.stderrR = errR
		p.child = append(p.child, errW)
		cmd.Stderr = errW
	}

	if spec.Input != nil {
		inR, inW, err := os.Pipe()
		if err != nil {
			return fail(err)
		}
		p.stdinW = inW
		p.child = append(p.child, inR)
		cmd.Stdin = inR
	}
	return p, nil
}

func (e *LocalExecutor) run(ctx context.Context, spec *Spec, iso *Isolation, env []string, limits Limits) (*Result, error) {
	cmd := exec.Command(iso.Argv[0], iso.Argv[1:]...)
	cmd.Dir = iso.Dir
	cmd.Env = env
	cmd.ExtraFiles = iso.ExtraFiles
	setProcessGroup(cmd)

	p, err := e.openPipes(cmd, spec)
	if err != nil {
		return nil, err
	}

	ceiling := spec.Ceiling(e.maxOutput)
	stdout := newCappedBuffer(ceiling)
	stderr := newCappedBuffer(ceiling)

	e.logger.Debug("sandbox spawning",
		slog.String("backend", e.Name()),
		slog.String("command", preview(spec.Argv)),
		slog.String("dir", spec.Dir),
		slog.String("restrictions", spec.Restrictions.String()),
		slog.Duration("wall_time", limits.WallTime),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		p.closeChild()
		p.closeParent()
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawnFailed, iso.Argv[0], err)
	}
	p.closeChild()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ioErrs []error
	)
	record := func(stream string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		ioErrs = append(ioErrs, fmt.Errorf("%s: %w", stream, err))
		mu.Unlock()
	}

	if p.stdinW != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("stdin", feed(p.stdinW, spec.Input))
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		record("stdout", drain(p.stdoutR, stdout))
	}()
	if p.stderrR != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record("stderr", drain(p.stderrR, stderr))
		}()
	}

	wd := startWatchdog(ctx, cmd.Process, limits.WallTime, e.grace, e.logger)
	if awaitExit(cmd.Process) {
		wd.markExited()
	}
	waitErr := cmd.Wait()
	outcome := wd.stop()
	duration := time.Since(start)

	// Descendants may still hold the pipes open after the child exits.
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(e.drainTimeout):
		e.logger.Warn("sandbox output still open after exit, killing process group",
			slog.String("command", preview(spec.Argv)),
			slog.Duration("drain_timeout", e.drainTimeout),
		)
		killGroup(cmd.Process)
		p.closeParent()
		<-drained
		record("drain", fmt.Errorf("streams still open %s after exit", e.drainTimeout))
	}
	p.closeParent()

	exitCode := ExitUnknown
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	res := &Result{
		ExitCode:        exitCode,
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.Bytes(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		StdoutBytes:     stdout.Total(),
		StderrBytes:     stderr.Total(),
		Duration:        duration,
		Backend:         e.Name(),
		IOError:         errors.Join(ioErrs...),
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		record("wait", waitErr)
		res.IOError = errors.Join(ioErrs...)
	}

	sig, limitSig, signaled := exitSignal(cmd.ProcessState)
	if signaled {
		res.Signal = sig
		res.ExitCode = ExitUnknown
	}

	switch {
	case outcome.escalated:
		res.Reason = Killed
	case outcome.fired:
		res.Reason = outcome.cause
	case signaled && limitSig:
		res.Reason = LimitExceeded
	case signaled:
		res.Reason = Killed
	default:
		res.Reason = Normal
	}
	if outcome.fired {
		res.ExitCode = ExitUnknown
	}

	attrs := []any{
		slog.String("backend", res.Backend),
		slog.String("command", preview(spec.Argv)),
		slog.Int("exit_code", res.ExitCode),
		slog.String("reason", res.Reason.String()),
		slog.Duration("duration", duration),
		slog.Int64("stdout_bytes", res.StdoutBytes),
		slog.Int64("stderr_bytes", res.StderrBytes),
	}
	if res.Reason == Normal {
		e.logger.Info("sandbox execution completed", attrs...)
	} else {
		e.logger.Warn("sandbox execution terminated", append(attrs, slog.String("signal", res.Signal))...)
	}
	return res, nil
}

const previewLimit = 120

func preview(argv []string) string {
	s := strings.Join(argv, " ")
	if len(s) > previewLimit {
		s = s[:previewLimit] + "..."
	}
	return s
}
