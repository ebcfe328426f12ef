package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/igorsilveira/warden/pkg/sandbox"
	"github.com/igorsilveira/warden/pkg/shell"
)

func testLogger(t *testing.T) *Logger {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	l, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func execution(started time.Time, argv ...string) shell.Execution {
	return shell.Execution{
		Argv:    argv,
		Backend: "local",
		Started: started,
		Result: &sandbox.Result{
			Stdout:      []byte("x"),
			StdoutBytes: 1,
			Duration:    25 * time.Millisecond,
		},
	}
}

func TestRecordAndQuery(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	e := execution(time.Now(), "convert", "in.png", "out file.jpg")
	e.Dir = "/srv/uploads"
	e.Restrictions = sandbox.RestrictDefault
	if err := l.RecordExecution(ctx, e); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	entries, err := l.Query(ctx, Filter{Program: "convert"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	got := entries[0]
	if !slices.Equal(got.Args(), []string{"convert", "in.png", "out file.jpg"}) {
		t.Errorf("Args() = %q", got.Args())
	}
	if got.Reason != "normal" || got.ExitCode != 0 || got.DurationMS != 25 {
		t.Errorf("entry = %+v", got)
	}
	if got.Dir != "/srv/uploads" || got.Restrictions != sandbox.RestrictDefault.String() {
		t.Errorf("dir %q restrictions %q", got.Dir, got.Restrictions)
	}
	if got.ID == "" {
		t.Error("entry has no ID")
	}
}

func TestRecordFailure(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	e := shell.Execution{
		Argv:    []string{"missing-binary"},
		Backend: "local",
		Started: time.Now(),
		Err:     fmt.Errorf("%w: exec: not found", sandbox.ErrSpawnFailed),
	}
	if err := l.RecordExecution(ctx, e); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	entries, _ := l.Query(ctx, Filter{Reason: ReasonError})
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].ErrorKind != sandbox.KindSpawnFailed || entries[0].ExitCode != sandbox.ExitUnknown {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestRecordAbnormal(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()

	e := execution(time.Now(), "sleep", "60")
	e.Result.Reason = sandbox.TimedOut
	e.Result.ExitCode = sandbox.ExitUnknown
	e.Result.Signal = "SIGTERM"
	e.Result.StderrTruncated = true
	if err := l.RecordExecution(ctx, e); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	entries, _ := l.Query(ctx, Filter{Reason: "timed_out"})
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	if entries[0].Signal != "SIGTERM" || !entries[0].Truncated {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestQueryFilters(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()
	now := time.Now()

	remote := execution(now, "ls")
	remote.Backend = "remote"
	for _, e := range []shell.Execution{execution(now, "ls"), execution(now, "cat"), remote} {
		if err := l.RecordExecution(ctx, e); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	entries, _ := l.Query(ctx, Filter{Program: "ls"})
	if len(entries) != 2 {
		t.Errorf("by program: len = %d, want 2", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Backend: "remote"})
	if len(entries) != 1 {
		t.Errorf("by backend: len = %d, want 1", len(entries))
	}

	entries, _ = l.Query(ctx, Filter{Limit: 1})
	if len(entries) != 1 {
		t.Errorf("by limit: len = %d, want 1", len(entries))
	}
}

func TestQueryTimeRangeAndOrdering(t *testing.T) {
	l := testLogger(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, prog := range []string{"first", "second", "third"} {
		if err := l.RecordExecution(ctx, execution(base.Add(time.Duration(i)*time.Minute), prog)); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	entries, err := l.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	if entries[0].Program != "third" || entries[2].Program != "first" {
		t.Errorf("order = %s, %s, %s, want newest first", entries[0].Program, entries[1].Program, entries[2].Program)
	}

	entries, _ = l.Query(ctx, Filter{Since: base.Add(30 * time.Second)})
	if len(entries) != 2 {
		t.Errorf("since: len = %d, want 2", len(entries))
	}
	entries, _ = l.Query(ctx, Filter{Until: base.Add(30 * time.Second)})
	if len(entries) != 1 {
		t.Errorf("until: len = %d, want 1", len(entries))
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.RecordExecution(context.Background(), execution(time.Now(), "true")); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	entries, _ := reopened.Query(context.Background(), Filter{})
	if len(entries) != 1 {
		t.Errorf("len after reopen = %d, want 1", len(entries))
	}
}

// The logger plugs into a factory as its recorder.
func TestFactoryRecordsThroughLogger(t *testing.T) {
	l := testLogger(t)
	f := shell.NewFactory(shell.FactoryConfig{Executor: fixedExecutor{}, Recorder: l})

	if _, err := f.Command("uname", "-a").Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := f.Command("").Execute(context.Background()); !errors.Is(err, sandbox.ErrInvalidSpec) {
		t.Fatalf("empty program: err = %v", err)
	}

	entries, _ := l.Query(context.Background(), Filter{})
	if len(entries) != 1 || entries[0].Program != "uname" || entries[0].Backend != "fixed" {
		t.Errorf("entries = %+v, want one uname record", entries)
	}
}

type fixedExecutor struct{}

func (fixedExecutor) Name() string          { return "fixed" }
func (fixedExecutor) Form() sandbox.ArgForm { return sandbox.FormVector }
func (fixedExecutor) Execute(context.Context, sandbox.Request) (*sandbox.Result, error) {
	return &sandbox.Result{Stdout: []byte{}, Stderr: []byte{}, Backend: "fixed"}, nil
}
