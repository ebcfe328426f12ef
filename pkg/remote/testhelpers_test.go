package remote

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/igorsilveira/warden/pkg/sandbox"
	"github.com/igorsilveira/warden/pkg/shell"
)

type fakeExecutor struct {
	result *sandbox.Result
	err    error
	delay  time.Duration

	mu   sync.Mutex
	reqs []sandbox.Request
}

func (f *fakeExecutor) Name() string          { return "fake" }
func (f *fakeExecutor) Form() sandbox.ArgForm { return sandbox.FormVector }

func (f *fakeExecutor) Execute(_ context.Context, req sandbox.Request) (*sandbox.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &sandbox.Result{Stdout: []byte("ok"), Stderr: []byte{}, Backend: "fake"}, nil
}

func (f *fakeExecutor) last() sandbox.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requirePOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

// newTestService starts a Server over exe and returns a client bound to it.
func newTestService(t *testing.T, exe sandbox.Executor, token string) (*Executor, *httptest.Server) {
	t.Helper()
	srv := NewServer(ServerConfig{
		AuthToken: token,
		Factory:   shell.NewFactory(shell.FactoryConfig{Executor: exe, Logger: discardLogger()}),
		Logger:    discardLogger(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := NewExecutor(ClientConfig{URL: ts.URL, APIKey: token}, discardLogger())
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return client, ts
}

func request(argv ...string) sandbox.Request {
	return sandbox.Request{
		Spec:        &sandbox.Spec{Argv: argv},
		CommandLine: shell.Join(argv),
	}
}
