package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestLocalExecutorEcho(t *testing.T) {
	requirePOSIX(t)
	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{Argv: []string{"echo", "hello world"}})

	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if string(res.Stdout) != "hello world\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello world\n")
	}
	if len(res.Stderr) != 0 {
		t.Errorf("Stderr = %q, want empty", res.Stderr)
	}
	if res.Reason != Normal {
		t.Errorf("Reason = %s, want normal", res.Reason)
	}
	if res.Backend != "local" {
		t.Errorf("Backend = %q, want local", res.Backend)
	}
}

func TestLocalExecutorNonZeroExit(t *testing.T) {
	requirePOSIX(t)
	e := newTestExecutor(LocalConfig{})

	res := execSpec(t, e, &Spec{Argv: []string{"false"}})
	if res.ExitCode == 0 {
		t.Error("ExitCode = 0, want non-zero")
	}
	if res.Reason != Normal {
		t.Errorf("Reason = %s, want normal", res.Reason)
	}

	res = execSpec(t, e, &Spec{Argv: []string{"/bin/sh", "-c", "exit 42"}})
	if res.ExitCode != 42 {
		t.Errorf("ExitCode = %d, want 42", res.ExitCode)
	}
}

func TestLocalExecutorWallTime(t *testing.T) {
	requirePOSIX(t)
	e := newTestExecutor(LocalConfig{GracePeriod: 500 * time.Millisecond})

	start := time.Now()
	res := execSpec(t, e, &Spec{
		Argv:   []string{"sleep", "10"},
		Limits: Limits{WallTime: 100 * time.Millisecond},
	})

	if res.Reason != TimedOut && res.Reason != Killed {
		t.Errorf("Reason = %s, want timed_out or killed", res.Reason)
	}
	if res.ExitCode != ExitUnknown {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, ExitUnknown)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("took %v, want well under the 10s sleep", elapsed)
	}
}

func TestLocalExecutorEscalatesToKill(t *testing.T) {
	requirePOSIX(t)
	grace := 300 * time.Millisecond
	e := newTestExecutor(LocalConfig{GracePeriod: grace})

	start := time.Now()
	res := execSpec(t, e, &Spec{
		Argv:   []string{"/bin/sh", "-c", "trap '' TERM; while :; do :; done"},
		Limits: Limits{WallTime: 100 * time.Millisecond},
	})

	if res.Reason != Killed {
		t.Errorf("Reason = %s, want killed", res.Reason)
	}
	if res.ExitCode != ExitUnknown {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, ExitUnknown)
	}
	if res.Signal != "SIGKILL" {
		t.Errorf("Signal = %q, want SIGKILL", res.Signal)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond+grace+3*time.Second {
		t.Errorf("took %v, escalation did not happen promptly", elapsed)
	}
}

func TestLocalExecutorPartialOutputOnTimeout(t *testing.T) {
	requirePOSIX(t)
	e := newTestExecutor(LocalConfig{GracePeriod: 500 * time.Millisecond})

	res := execSpec(t, e, &Spec{
		Argv:   []string{"/bin/sh", "-c", "echo partial; sleep 10"},
		Limits: Limits{WallTime: 300 * time.Millisecond},
	})

	if res.Reason != TimedOut && res.Reason != Killed {
		t.Errorf("Reason = %s, want timed_out or killed", res.Reason)
	}
	if string(res.Stdout) != "partial\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "partial\n")
	}
}

func TestLocalExecutorLargeInputNoDeadlock(t *testing.T) {
	requirePOSIX(t)
	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024) // 1 MiB, well past a pipe buffer

	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv:   []string{"cat"},
		Input:  payload,
		Limits: Limits{WallTime: 30 * time.Second},
	})

	if res.Reason != Normal {
		t.Fatalf("Reason = %s, want normal", res.Reason)
	}
	if !bytes.Equal(res.Stdout, payload) {
		t.Errorf("Stdout has %d bytes, want %d identical bytes", len(res.Stdout), len(payload))
	}
	if res.StdoutTruncated {
		t.Error("StdoutTruncated = true, want false")
	}
}

func TestLocalExecutorBothStreamsLarge(t *testing.T) {
	requirePOSIX(t)
	payload := bytes.Repeat([]byte("x"), 300*1024)

	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv:   []string{"/bin/sh", "-c", "head -c 200000 /dev/zero >&2; cat"},
		Input:  payload,
		Limits: Limits{WallTime: 30 * time.Second},
	})

	if len(res.Stdout) != len(payload) {
		t.Errorf("len(Stdout) = %d, want %d", len(res.Stdout), len(payload))
	}
	if len(res.Stderr) != 200000 {
		t.Errorf("len(Stderr) = %d, want 200000", len(res.Stderr))
	}
}

func TestLocalExecutorNoInputClosesStdin(t *testing.T) {
	requirePOSIX(t)
	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv:   []string{"cat"},
		Limits: Limits{WallTime: 5 * time.Second},
	})
	if res.Reason != Normal {
		t.Errorf("Reason = %s, want normal (cat must see EOF)", res.Reason)
	}
	if len(res.Stdout) != 0 {
		t.Errorf("Stdout = %q, want empty", res.Stdout)
	}
}

func TestLocalExecutorTruncation(t *testing.T) {
	requirePOSIX(t)
	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv:          []string{"head", "-c", "100000", "/dev/zero"},
		OutputCeiling: 1000,
	})

	if len(res.Stdout) != 1000 {
		t.Errorf("len(Stdout) = %d, want 1000", len(res.Stdout))
	}
	if !res.StdoutTruncated {
		t.Error("StdoutTruncated = false, want true")
	}
	if res.StdoutBytes != 100000 {
		t.Errorf("StdoutBytes = %d, want 100000", res.StdoutBytes)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0 (child must not block)", res.ExitCode)
	}
}

func TestLocalExecutorBackendCeiling(t *testing.T) {
	requirePOSIX(t)
	res := execSpec(t, newTestExecutor(LocalConfig{MaxOutputBytes: 10}), &Spec{
		Argv: []string{"echo", "more than ten bytes"},
	})
	if string(res.Stdout) != "more than " {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "more than ")
	}
}

func TestLocalExecutorMergeStderr(t *testing.T) {
	requirePOSIX(t)
	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv:        []string{"/bin/sh", "-c", "echo out; echo err >&2"},
		MergeStderr: true,
	})

	if string(res.Stdout) != "out\nerr\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "out\nerr\n")
	}
	if len(res.Stderr) != 0 {
		t.Errorf("Stderr = %q, want empty when merged", res.Stderr)
	}
}

func TestLocalExecutorSeparateStderr(t *testing.T) {
	requirePOSIX(t)
	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv: []string{"/bin/sh", "-c", "echo out; echo err >&2"},
	})
	if string(res.Stdout) != "out\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "out\n")
	}
	if string(res.Stderr) != "err\n" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "err\n")
	}
}

func TestLocalExecutorEnvironment(t *testing.T) {
	requirePOSIX(t)
	e := newTestExecutor(LocalConfig{BaseEnv: func() []string { return []string{"LEAK=1", "PATH=" + os.Getenv("PATH")} }})
	script := `printf '%s/%s' "${LEAK:-unset}" "${ADDED:-unset}"`

	res := execSpec(t, e, &Spec{
		Argv: []string{"/bin/sh", "-c", script},
		Env:  map[string]string{"ADDED": "yes"},
	})
	if string(res.Stdout) != "1/yes" {
		t.Errorf("overlay Stdout = %q, want %q", res.Stdout, "1/yes")
	}

	res = execSpec(t, e, &Spec{
		Argv:     []string{"/bin/sh", "-c", script},
		Env:      map[string]string{"ADDED": "yes"},
		ExactEnv: true,
	})
	if string(res.Stdout) != "unset/yes" {
		t.Errorf("exact Stdout = %q, want %q", res.Stdout, "unset/yes")
	}
}

func TestLocalExecutorWorkingDirectory(t *testing.T) {
	requirePOSIX(t)
	dir := t.TempDir()
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}

	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv: []string{"/bin/sh", "-c", "pwd -P"},
		Dir:  dir,
	})
	if got := strings.TrimSpace(string(res.Stdout)); got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestLocalExecutorDirNotAllowed(t *testing.T) {
	requirePOSIX(t)
	e := newTestExecutor(LocalConfig{AllowedDirs: []string{t.TempDir()}})
	_, err := e.Execute(context.Background(), Request{Spec: &Spec{Argv: []string{"true"}, Dir: "/"}})
	if !errors.Is(err, ErrSandboxSetupFailed) {
		t.Errorf("err = %v, want ErrSandboxSetupFailed", err)
	}
}

func TestLocalExecutorSpawnFailed(t *testing.T) {
	res, err := newTestExecutor(LocalConfig{}).Execute(context.Background(), Request{Spec: &Spec{
		Argv: []string{"/nonexistent/warden-test-binary"},
	}})
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
}

func TestLocalExecutorInvalidSpec(t *testing.T) {
	_, err := newTestExecutor(LocalConfig{}).Execute(context.Background(), Request{Spec: &Spec{}})
	if !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("err = %v, want ErrInvalidSpec", err)
	}
}

func TestLocalExecutorRestrictionsWithoutIsolator(t *testing.T) {
	requirePOSIX(t)
	marker := filepath.Join(t.TempDir(), "ran")

	_, err := newTestExecutor(LocalConfig{}).Execute(context.Background(), Request{Spec: &Spec{
		Argv:         []string{"touch", marker},
		Restrictions: NoNetwork,
	}})
	if !errors.Is(err, ErrSandboxSetupFailed) {
		t.Fatalf("err = %v, want ErrSandboxSetupFailed", err)
	}
	if _, statErr := os.Stat(marker); statErr == nil {
		t.Error("command ran without the requested isolation")
	}
}

func TestLocalExecutorIsolatorFailure(t *testing.T) {
	cause := errors.New("namespace creation denied")
	iso := &fakeIsolator{err: cause}

	_, err := newTestExecutor(LocalConfig{Isolator: iso}).Execute(context.Background(), Request{Spec: &Spec{
		Argv:         []string{"true"},
		Restrictions: RestrictDefault,
	}})
	if !errors.Is(err, ErrSandboxSetupFailed) {
		t.Errorf("err = %v, want ErrSandboxSetupFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want it to wrap the isolator error", err)
	}
}

func TestLocalExecutorIsolatorWraps(t *testing.T) {
	requirePOSIX(t)
	iso := &fakeIsolator{prefix: []string{"/bin/sh", "-c", `echo isolated; exec "$@"`, "fake"}}
	e := newTestExecutor(LocalConfig{Isolator: iso})

	res := execSpec(t, e, &Spec{
		Argv:         []string{"echo", "hello"},
		Restrictions: NoRoot | NoNetwork,
	})

	if string(res.Stdout) != "isolated\nhello\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "isolated\nhello\n")
	}
	if iso.gotReq.Restrictions != NoRoot|NoNetwork {
		t.Errorf("isolator got restrictions %s, want no_root|no_network", iso.gotReq.Restrictions)
	}
	if res.Backend != "local+fake" {
		t.Errorf("Backend = %q, want local+fake", res.Backend)
	}
}

func TestLocalExecutorContextCancel(t *testing.T) {
	requirePOSIX(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := newTestExecutor(LocalConfig{}).Execute(ctx, Request{Spec: &Spec{Argv: []string{"sleep", "10"}}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != Killed {
		t.Errorf("Reason = %s, want killed", res.Reason)
	}
}

func TestLocalExecutorContextDeadline(t *testing.T) {
	requirePOSIX(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := newTestExecutor(LocalConfig{}).Execute(ctx, Request{Spec: &Spec{Argv: []string{"sleep", "10"}}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != TimedOut {
		t.Errorf("Reason = %s, want timed_out", res.Reason)
	}
}

func TestLocalExecutorCancelledBeforeStart(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestExecutor(LocalConfig{}).Execute(ctx, Request{Spec: &Spec{Argv: []string{"touch", marker}}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != Killed || res.ExitCode != ExitUnknown {
		t.Errorf("result = %s/%d, want killed/%d", res.Reason, res.ExitCode, ExitUnknown)
	}
	if _, statErr := os.Stat(marker); statErr == nil {
		t.Error("command spawned after cancellation")
	}
}

func TestLocalExecutorDrainTimeout(t *testing.T) {
	requirePOSIX(t)
	e := newTestExecutor(LocalConfig{DrainTimeout: 200 * time.Millisecond})

	start := time.Now()
	res := execSpec(t, e, &Spec{Argv: []string{"/bin/sh", "-c", "sleep 10 & echo done"}})

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("took %v, a background child held the result hostage", elapsed)
	}
	if string(res.Stdout) != "done\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "done\n")
	}
	if res.IOError == nil {
		t.Error("IOError = nil, want the drain timeout recorded")
	}
}

func TestLocalExecutorCPULimit(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("SIGXCPU delivery checked on linux only")
	}
	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv:   []string{"/bin/sh", "-c", "while :; do :; done"},
		Limits: Limits{CPUTime: time.Second, WallTime: 20 * time.Second},
	})
	if res.Reason != LimitExceeded {
		t.Errorf("Reason = %s, want limit_exceeded", res.Reason)
	}
	if res.Signal != "SIGXCPU" {
		t.Errorf("Signal = %q, want SIGXCPU", res.Signal)
	}
}

func TestLocalExecutorFileSizeLimit(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("SIGXFSZ delivery checked on linux only")
	}
	out := filepath.Join(t.TempDir(), "big")
	res := execSpec(t, newTestExecutor(LocalConfig{}), &Spec{
		Argv:   []string{"dd", "if=/dev/zero", "of=" + out, "bs=1024", "count=64"},
		Limits: Limits{FileSize: 4096, WallTime: 10 * time.Second},
	})
	if res.Reason != LimitExceeded {
		t.Errorf("Reason = %s, want limit_exceeded", res.Reason)
	}
}

func TestLocalExecutorConcurrent(t *testing.T) {
	requirePOSIX(t)
	e := newTestExecutor(LocalConfig{})
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			want := strings.Repeat("z", 1000*(i+1))
			res, err := e.Execute(context.Background(), Request{Spec: &Spec{Argv: []string{"cat"}, Input: []byte(want)}})
			if err == nil && string(res.Stdout) != want {
				err = errors.New("stdout mismatch")
			}
			errs <- err
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent Execute: %v", err)
		}
	}
}
