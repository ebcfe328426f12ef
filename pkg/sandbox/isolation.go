package sandbox

import (
	"context"
	"os"
)

// Isolator turns a plain argv into one that runs under the requested
// restrictions. An Isolator that cannot honor a bit must return an error
// rather than run the command with weaker isolation.
type Isolator interface {
	Name() string
	Prepare(ctx context.Context, req IsolationRequest) (*Isolation, error)
}

type IsolationRequest struct {
	Argv         []string
	Env          map[string]string
	Dir          string
	Restrictions Restriction
	Limits       Limits
	HasInput     bool
}

type Isolation struct {
	Argv []string

	// ExtraFiles are inherited by the child starting at fd 3.
	ExtraFiles []*os.File

	// Env replaces the computed child environment when non-nil.
	Env []string
	Dir string

	// Cleanup runs after the child has exited and its output is drained.
	Cleanup func()
}

// Passthrough returns an Isolation that runs argv unchanged.
func Passthrough(req IsolationRequest) *Isolation {
	return &Isolation{Argv: req.Argv, Dir: req.Dir}
}
