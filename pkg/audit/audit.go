// Package audit keeps an operational record of every command run through a
// shell.Factory.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/igorsilveira/warden/pkg/sandbox"
	"github.com/igorsilveira/warden/pkg/shell"
)

// ReasonError marks executions that failed before producing a result.
const ReasonError = "error"

type Entry struct {
	ID           string    `gorm:"primaryKey;column:id"`
	Timestamp    time.Time `gorm:"column:timestamp;not null;index:idx_exec_timestamp"`
	Program      string    `gorm:"column:program;not null;index:idx_exec_program"`
	Argv         string    `gorm:"column:argv;not null;default:'[]'"`
	Dir          string    `gorm:"column:dir;not null;default:''"`
	Backend      string    `gorm:"column:backend;not null;default:''"`
	Restrictions string    `gorm:"column:restrictions;not null;default:''"`
	ExitCode     int       `gorm:"column:exit_code;not null"`
	Reason       string    `gorm:"column:reason;not null"`
	Signal       string    `gorm:"column:signal;not null;default:''"`
	DurationMS   int64     `gorm:"column:duration_ms;not null;default:0"`
	StdoutBytes  int64     `gorm:"column:stdout_bytes;not null;default:0"`
	StderrBytes  int64     `gorm:"column:stderr_bytes;not null;default:0"`
	Truncated    bool      `gorm:"column:truncated;not null;default:false"`
	ErrorKind    string    `gorm:"column:error_kind;not null;default:''"`
	Error        string    `gorm:"column:error;not null;default:''"`
}

func (Entry) TableName() string {
	return "executions"
}

// Args decodes the stored argv.
func (e Entry) Args() []string {
	var argv []string
	_ = json.Unmarshal([]byte(e.Argv), &argv)
	return argv
}

type Logger struct {
	db     *gorm.DB
	closer func() error
}

// Open creates or opens the SQLite database at dsn.
func Open(dsn string) (*Logger, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("audit: enabling WAL mode: %w", err)
	}

	l, err := New(db)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	l.closer = sqlDB.Close
	return l, nil
}

func New(db *gorm.DB) (*Logger, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("audit: running migrations: %w", err)
	}

	return &Logger{db: db}, nil
}

// Close releases the database if Open created it.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer()
}

// RecordExecution stores one execution. It satisfies shell.Recorder.
func (l *Logger) RecordExecution(ctx context.Context, e shell.Execution) error {
	argv, err := json.Marshal(e.Argv)
	if err != nil {
		return fmt.Errorf("audit: encoding argv: %w", err)
	}

	entry := &Entry{
		ID:           uuid.NewString(),
		Timestamp:    e.Started.UTC(),
		Argv:         string(argv),
		Dir:          e.Dir,
		Backend:      e.Backend,
		Restrictions: e.Restrictions.String(),
		ExitCode:     sandbox.ExitUnknown,
		Reason:       ReasonError,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if len(e.Argv) > 0 {
		entry.Program = e.Argv[0]
	}

	switch {
	case e.Err != nil:
		entry.ErrorKind = sandbox.ErrorKind(e.Err)
		entry.Error = e.Err.Error()
		if e.Result != nil {
			entry.Reason = e.Result.Reason.String()
		}
	case e.Result != nil:
		r := e.Result
		entry.ExitCode = r.ExitCode
		entry.Reason = r.Reason.String()
		entry.Signal = r.Signal
		entry.DurationMS = r.Duration.Milliseconds()
		entry.StdoutBytes = r.StdoutBytes
		entry.StderrBytes = r.StderrBytes
		entry.Truncated = r.Truncated()
		if r.IOError != nil {
			entry.Error = r.IOError.Error()
		}
	}

	return l.db.WithContext(ctx).Create(entry).Error
}

func (l *Logger) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := l.db.WithContext(ctx)

	if f.Program != "" {
		q = q.Where("program = ?", f.Program)
	}
	if f.Reason != "" {
		q = q.Where("reason = ?", f.Reason)
	}
	if f.Backend != "" {
		q = q.Where("backend = ?", f.Backend)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("timestamp <= ?", f.Until)
	}

	q = q.Order("timestamp DESC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var entries []Entry
	err := q.Find(&entries).Error
	return entries, err
}

type Filter struct {
	Program string
	Reason  string
	Backend string
	Since   time.Time
	Until   time.Time
	Limit   int
}
