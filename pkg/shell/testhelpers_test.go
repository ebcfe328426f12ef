package shell

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/igorsilveira/warden/pkg/sandbox"
)

type fakeExecutor struct {
	form   sandbox.ArgForm
	result *sandbox.Result
	err    error

	mu     sync.Mutex
	gotReq []sandbox.Request
}

func (f *fakeExecutor) Name() string          { return "fake" }
func (f *fakeExecutor) Form() sandbox.ArgForm { return f.form }

func (f *fakeExecutor) Execute(_ context.Context, req sandbox.Request) (*sandbox.Result, error) {
	f.mu.Lock()
	f.gotReq = append(f.gotReq, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &sandbox.Result{Stdout: []byte("ok\n"), Stderr: []byte{}, Backend: "fake"}, nil
}

func (f *fakeExecutor) last() sandbox.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotReq[len(f.gotReq)-1]
}

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gotReq)
}

type fakeRecorder struct {
	got []Execution
}

func (r *fakeRecorder) RecordExecution(_ context.Context, e Execution) error {
	r.got = append(r.got, e)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFactory(exe sandbox.Executor) *Factory {
	return NewFactory(FactoryConfig{Executor: exe, Logger: discardLogger()})
}
