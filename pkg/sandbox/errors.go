package sandbox

import (
	"errors"
	"fmt"
)

// Failures that occur before a child exists are returned as errors wrapping
// one of these. Timeouts and kills are not errors; they are reported through
// Result.Reason.
var (
	ErrInvalidSpec          = errors.New("sandbox: invalid command")
	ErrInvalidLimit         = errors.New("sandbox: invalid limit")
	ErrExecutionUnavailable = errors.New("sandbox: execution unavailable")
	ErrSpawnFailed          = errors.New("sandbox: spawn failed")
	ErrSandboxSetupFailed   = errors.New("sandbox: sandbox setup failed")
	ErrBackendUnavailable   = errors.New("sandbox: backend unavailable")
)

const (
	KindInvalidSpec          = "invalid_spec"
	KindInvalidLimit         = "invalid_limit"
	KindExecutionUnavailable = "execution_unavailable"
	KindSpawnFailed          = "spawn_failed"
	KindSandboxSetupFailed   = "sandbox_setup_failed"
	KindBackendUnavailable   = "backend_unavailable"
	KindInternal             = "internal"
)

var kinds = []struct {
	kind string
	err  error
}{
	{KindInvalidSpec, ErrInvalidSpec},
	{KindInvalidLimit, ErrInvalidLimit},
	{KindExecutionUnavailable, ErrExecutionUnavailable},
	{KindSpawnFailed, ErrSpawnFailed},
	{KindSandboxSetupFailed, ErrSandboxSetupFailed},
	{KindBackendUnavailable, ErrBackendUnavailable},
}

// ErrorKind returns the wire name of the sentinel err wraps, or KindInternal.
func ErrorKind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// KindError rebuilds an error from its wire name and message so that
// errors.Is matches the original sentinel.
func KindError(kind, message string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return fmt.Errorf("%w: %s", k.err, message)
		}
	}
	return errors.New(message)
}
