// Package sandbox runs external commands under resource limits and
// isolation restrictions and reports a uniform Result regardless of the
// backend that ran them.
package sandbox

import "context"

// ArgForm is the argument representation an Executor consumes.
type ArgForm int

const (
	// FormVector executors receive Spec.Argv as discrete elements. No
	// quoting is applied.
	FormVector ArgForm = iota
	// FormCommandLine executors receive a single quoted command line in
	// Request.CommandLine.
	FormCommandLine
)

func (f ArgForm) String() string {
	if f == FormCommandLine {
		return "command_line"
	}
	return "vector"
}

type Request struct {
	Spec *Spec

	// CommandLine is the POSIX-quoted form of Spec.Argv, set only for
	// FormCommandLine executors.
	CommandLine string
}

// Executor runs a Request to completion. A returned error means no usable
// execution took place; timeouts and kills are reported in the Result.
type Executor interface {
	Name() string
	Form() ArgForm
	Execute(ctx context.Context, req Request) (*Result, error)
}
