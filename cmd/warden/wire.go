package warden

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/igorsilveira/warden/pkg/audit"
	"github.com/igorsilveira/warden/pkg/config"
	"github.com/igorsilveira/warden/pkg/remote"
	"github.com/igorsilveira/warden/pkg/sandbox"
	"github.com/igorsilveira/warden/pkg/sandbox/bwrap"
	"github.com/igorsilveira/warden/pkg/shell"
	"github.com/igorsilveira/warden/pkg/telemetry"
)

// app holds everything a command needs once the config is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	factory *shell.Factory
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// setup loads the config and builds the logger, tracer, executor, and
// factory it describes. backend overrides cfg.Shell.Backend when set.
func setup(ctx context.Context, logOutput io.Writer, backend string) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if backend != "" {
		cfg.Shell.Backend = backend
	}

	a := &app{cfg: cfg}

	if logOutput != nil && cfg.Log.Output == "" {
		a.logger = telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format, logOutput)
	} else {
		logger, closer, err := telemetry.NewLogger(telemetry.LogConfig{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cfg.Log.Output,
		})
		if err != nil {
			return nil, fmt.Errorf("setting up logging: %w", err)
		}
		a.logger = logger
		a.closers = append(a.closers, closer.Close)
	}

	shutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		ServiceName: "warden",
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	exe, err := newExecutor(cfg, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	restrictions, _ := cfg.Restrictions()
	limits, _ := cfg.Limits()
	fc := shell.FactoryConfig{
		Executor:     exe,
		Restrictions: restrictions,
		Limits:       limits,
		Disabled:     cfg.Shell.Disabled,
		Interpreter:  cfg.Shell.Interpreter,
		Logger:       telemetry.Component(a.logger, "shell"),
	}

	if cfg.Audit.Enabled {
		if err := config.EnsureDataDir(); err != nil {
			a.Close()
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		log, err := audit.Open(cfg.Audit.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		fc.Recorder = log
		a.closers = append(a.closers, log.Close)
	}

	a.factory = shell.NewFactory(fc)
	return a, nil
}

func newExecutor(cfg *config.Config, logger *slog.Logger) (sandbox.Executor, error) {
	switch cfg.Shell.Backend {
	case config.BackendRemote:
		exe, err := remote.NewExecutor(remote.ClientConfig{
			URL:     cfg.Remote.URL,
			APIKey:  os.Getenv(cfg.Remote.APIKeyEnv),
			Timeout: cfg.RemoteTimeout(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return exe, nil
	case config.BackendLocal, "":
	default:
		return nil, fmt.Errorf("unknown shell backend %q", cfg.Shell.Backend)
	}

	isolator, err := newIsolator(cfg, logger)
	if err != nil {
		return nil, err
	}
	maxOutput, _ := cfg.MaxOutputBytes()
	return sandbox.NewLocalExecutor(sandbox.LocalConfig{
		Isolator:       isolator,
		GracePeriod:    cfg.GracePeriod(),
		DrainTimeout:   cfg.DrainTimeout(),
		MaxOutputBytes: maxOutput,
		AllowedDirs:    cfg.Shell.AllowedDirs,
	}, telemetry.Component(logger, "sandbox")), nil
}

func newIsolator(cfg *config.Config, logger *slog.Logger) (sandbox.Isolator, error) {
	switch cfg.Shell.Isolation {
	case config.IsolationBwrap:
		iso, err := bwrap.NewIsolator(bwrap.Config{
			Path:           cfg.Shell.Bwrap.Path,
			SensitivePaths: cfg.Shell.SensitivePaths,
		}, telemetry.Component(logger, "bwrap"))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", sandbox.ErrSandboxSetupFailed, err)
		}
		return iso, nil
	case config.IsolationContainer:
		iso, err := sandbox.NewContainerIsolator(sandbox.ContainerConfig{
			Runtime:        cfg.Shell.Container.Runtime,
			Image:          cfg.Shell.Container.Image,
			SensitivePaths: cfg.Shell.SensitivePaths,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", sandbox.ErrSandboxSetupFailed, err)
		}
		return iso, nil
	default:
		return nil, nil
	}
}
