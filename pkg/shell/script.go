package shell

import (
	"slices"

	"github.com/igorsilveira/warden/pkg/sandbox"
)

const defaultInterpreter = "/bin/sh"

type ScriptOptions struct {
	Interpreter string // defaults to the factory's interpreter
	Wrapper     string // optional script run in front of the target
}

// ScriptCommand builds [interpreter, wrapper, script, params...]. params is
// a flat list: an option and its value are two elements.
//
// Scripts run with the default restrictions minus NoSensitiveConfig, since
// they are expected to read the host configuration.
func (f *Factory) ScriptCommand(script string, params []string, opts ScriptOptions) *Command {
	params = slices.Clone(params)
	if f.cfg.ScriptHook != nil {
		f.cfg.ScriptHook(&script, &params, &opts)
	}

	interp := opts.Interpreter
	if interp == "" {
		interp = f.cfg.Interpreter
	}
	if interp == "" {
		interp = defaultInterpreter
	}

	c := f.Create().Params(interp)
	if opts.Wrapper != "" {
		c.Params(opts.Wrapper)
	}
	return c.Params(script).
		Params(params...).
		Restrict(sandbox.RestrictDefault &^ sandbox.NoSensitiveConfig)
}
