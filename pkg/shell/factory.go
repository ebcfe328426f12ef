// Package shell builds sandboxed commands and runs them through a
// configured sandbox.Executor.
package shell

import (
	"context"
	"log/slog"
	"time"

	"github.com/igorsilveira/warden/pkg/sandbox"
)

// Execution is what a Recorder sees after every Execute call.
type Execution struct {
	Argv         []string
	Dir          string
	Restrictions sandbox.Restriction
	Backend      string
	Started      time.Time
	Result       *sandbox.Result // nil when Err is set
	Err          error
}

type Recorder interface {
	RecordExecution(ctx context.Context, e Execution) error
}

// ScriptHook may rewrite a script invocation before it is assembled, for
// example to run every script through a site-wide wrapper.
type ScriptHook func(script *string, params *[]string, opts *ScriptOptions)

type FactoryConfig struct {
	Executor sandbox.Executor

	// Restrictions and Limits seed every new Command.
	Restrictions sandbox.Restriction
	Limits       sandbox.Limits

	// Disabled turns execution off administratively.
	Disabled bool

	Interpreter string
	ScriptHook  ScriptHook
	Recorder    Recorder
	Logger      *slog.Logger
}

// Factory hands out Commands bound to one executor.
type Factory struct {
	cfg    FactoryConfig
	logger *slog.Logger
}

func NewFactory(cfg FactoryConfig) *Factory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// Available reports whether Execute can run anything: the platform can
// spawn processes, execution is not switched off, and an executor is set.
func (f *Factory) Available() bool {
	return !IsDisabled() && !f.cfg.Disabled && f.cfg.Executor != nil
}

func (f *Factory) Executor() sandbox.Executor {
	return f.cfg.Executor
}

// Limits returns the limits every new Command starts with.
func (f *Factory) Limits() sandbox.Limits {
	return f.cfg.Limits
}

func (f *Factory) Create() *Command {
	return &Command{
		factory:      f,
		limits:       f.cfg.Limits,
		restrictions: f.cfg.Restrictions,
	}
}

// Command returns a builder with args as its initial argv.
func (f *Factory) Command(args ...string) *Command {
	return f.Create().Params(args...)
}
