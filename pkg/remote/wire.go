// Package remote runs commands on a sandboxing service over HTTP. The
// client is a sandbox.Executor; the server exposes a shell.Factory.
package remote

import (
	"strings"
	"time"

	"github.com/igorsilveira/warden/pkg/sandbox"
)

const executePath = "/v1/execute"

// ExecuteRequest is the body of POST /v1/execute. Command, when set, is a
// POSIX command line and takes precedence over Argv.
type ExecuteRequest struct {
	Command       string            `json:"command,omitempty"`
	Argv          []string          `json:"argv,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	ExactEnv      bool              `json:"exact_env,omitempty"`
	Dir           string            `json:"dir,omitempty"`
	Input         []byte            `json:"input,omitempty"`
	Limits        WireLimits        `json:"limits"`
	Restrictions  uint32            `json:"restrictions"`
	MergeStderr   bool              `json:"merge_stderr,omitempty"`
	OutputCeiling int64             `json:"output_ceiling,omitempty"`
}

type WireLimits struct {
	CPUTimeMS  int64 `json:"cpu_time_ms,omitempty"`
	WallTimeMS int64 `json:"wall_time_ms,omitempty"`
	Memory     int64 `json:"memory,omitempty"`
	FileSize   int64 `json:"file_size,omitempty"`
	Output     int64 `json:"output,omitempty"`
}

type ExecuteResponse struct {
	ExitCode        int                 `json:"exit_code"`
	Stdout          []byte              `json:"stdout"`
	Stderr          []byte              `json:"stderr"`
	StdoutTruncated bool                `json:"stdout_truncated,omitempty"`
	StderrTruncated bool                `json:"stderr_truncated,omitempty"`
	StdoutBytes     int64               `json:"stdout_bytes"`
	StderrBytes     int64               `json:"stderr_bytes"`
	Reason          sandbox.Termination `json:"reason"`
	Signal          string              `json:"signal,omitempty"`
	DurationMS      int64               `json:"duration_ms"`
	IOError         string              `json:"io_error,omitempty"`
}

type ErrorBody struct {
	Error WireError `json:"error"`
}

type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func encodeLimits(l sandbox.Limits) WireLimits {
	return WireLimits{
		CPUTimeMS:  l.CPUTime.Milliseconds(),
		WallTimeMS: l.WallTime.Milliseconds(),
		Memory:     l.Memory,
		FileSize:   l.FileSize,
		Output:     l.Output,
	}
}

func (w WireLimits) decode() sandbox.Limits {
	return sandbox.Limits{
		CPUTime:  time.Duration(w.CPUTimeMS) * time.Millisecond,
		WallTime: time.Duration(w.WallTimeMS) * time.Millisecond,
		Memory:   w.Memory,
		FileSize: w.FileSize,
		Output:   w.Output,
	}
}

func encodeRequest(req sandbox.Request) ExecuteRequest {
	s := req.Spec
	return ExecuteRequest{
		Command:       req.CommandLine,
		Argv:          s.Argv,
		Env:           s.Env,
		ExactEnv:      s.ExactEnv,
		Dir:           s.Dir,
		Input:         s.Input,
		Limits:        encodeLimits(s.Limits),
		Restrictions:  uint32(s.Restrictions),
		MergeStderr:   s.MergeStderr,
		OutputCeiling: s.OutputCeiling,
	}
}

func encodeResult(res *sandbox.Result) ExecuteResponse {
	out := ExecuteResponse{
		ExitCode:        res.ExitCode,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		StdoutTruncated: res.StdoutTruncated,
		StderrTruncated: res.StderrTruncated,
		StdoutBytes:     res.StdoutBytes,
		StderrBytes:     res.StderrBytes,
		Reason:          res.Reason,
		Signal:          res.Signal,
		DurationMS:      res.Duration.Milliseconds(),
	}
	if res.IOError != nil {
		out.IOError = res.IOError.Error()
	}
	return out
}

func (r ExecuteResponse) decode(backend string) *sandbox.Result {
	res := &sandbox.Result{
		ExitCode:        r.ExitCode,
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		StdoutTruncated: r.StdoutTruncated,
		StderrTruncated: r.StderrTruncated,
		StdoutBytes:     r.StdoutBytes,
		StderrBytes:     r.StderrBytes,
		Reason:          r.Reason,
		Signal:          r.Signal,
		Duration:        time.Duration(r.DurationMS) * time.Millisecond,
		Backend:         backend,
	}
	if res.Stdout == nil {
		res.Stdout = []byte{}
	}
	if res.Stderr == nil {
		res.Stderr = []byte{}
	}
	if r.IOError != "" {
		res.IOError = wireIOError(r.IOError)
	}
	return res
}

type wireIOError string

func (e wireIOError) Error() string { return string(e) }

// errorBody renders err for the wire. The sentinel text is dropped from the
// message because KindError puts it back on the other side.
func errorBody(err error) ErrorBody {
	kind := sandbox.ErrorKind(err)
	msg := err.Error()
	if prefix := sandbox.KindError(kind, "").Error(); prefix != "" {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return ErrorBody{Error: WireError{Kind: kind, Message: msg}}
}
