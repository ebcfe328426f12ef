package sandbox

import (
	"fmt"
	"time"
)

// ExitUnknown is the exit code of a process that never ran or was killed
// before reporting one.
const ExitUnknown = -1

// Termination classifies how an execution concluded, independent of the
// program's own exit code.
type Termination int

const (
	Normal Termination = iota
	TimedOut
	Killed
	LimitExceeded
	BackendUnavailable
)

var terminationNames = [...]string{
	Normal:             "normal",
	TimedOut:           "timed_out",
	Killed:             "killed",
	LimitExceeded:      "limit_exceeded",
	BackendUnavailable: "backend_unavailable",
}

func (t Termination) String() string {
	if t >= 0 && int(t) < len(terminationNames) {
		return terminationNames[t]
	}
	return fmt.Sprintf("termination(%d)", int(t))
}

func ParseTermination(s string) (Termination, error) {
	for i, name := range terminationNames {
		if name == s {
			return Termination(i), nil
		}
	}
	return 0, fmt.Errorf("sandbox: unknown termination reason %q", s)
}

func (t Termination) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Termination) UnmarshalText(b []byte) error {
	parsed, err := ParseTermination(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Result is produced once per execution and not modified afterwards.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte // empty when stderr was merged into Stdout

	StdoutTruncated bool
	StderrTruncated bool
	StdoutBytes     int64 // bytes the child wrote, including discarded ones
	StderrBytes     int64

	Reason   Termination
	Signal   string // set when the child died of a signal
	Duration time.Duration
	Backend  string

	// IOError collects pipe errors seen while draining. The streams hold
	// whatever arrived before the error.
	IOError error
}

func (r *Result) Succeeded() bool {
	return r.Reason == Normal && r.ExitCode == 0
}

func (r *Result) Abnormal() bool {
	return r.Reason != Normal
}

func (r *Result) Truncated() bool {
	return r.StdoutTruncated || r.StderrTruncated
}
