package sandbox

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requirePOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func newTestExecutor(cfg LocalConfig) *LocalExecutor {
	return NewLocalExecutor(cfg, discardLogger())
}

func execSpec(t *testing.T, e *LocalExecutor, spec *Spec) *Result {
	t.Helper()
	res, err := e.Execute(context.Background(), Request{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

type fakeIsolator struct {
	prefix []string
	err    error
	gotReq IsolationRequest
	calls  int
}

func (f *fakeIsolator) Name() string { return "fake" }

func (f *fakeIsolator) Prepare(_ context.Context, req IsolationRequest) (*Isolation, error) {
	f.calls++
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	argv := append(append([]string{}, f.prefix...), req.Argv...)
	return &Isolation{Argv: argv, Dir: req.Dir}, nil
}
