package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"
)

type watchOutcome struct {
	fired     bool        // a termination signal was sent
	cause     Termination // TimedOut or Killed, valid when fired
	escalated bool        // the grace period ran out and SIGKILL was sent
}

type watchdog struct {
	proc   *os.Process
	wall   time.Duration
	grace  time.Duration
	done   chan watchOutcome
	logger *slog.Logger

	// mu orders signals against markExited; no signal is sent once the
	// child is known to have exited.
	mu       sync.Mutex
	gone     bool
	exited   chan struct{}
	exitOnce sync.Once
}

func startWatchdog(ctx context.Context, proc *os.Process, wall, grace time.Duration, logger *slog.Logger) *watchdog {
	w := &watchdog{
		proc:   proc,
		wall:   wall,
		grace:  grace,
		exited: make(chan struct{}),
		done:   make(chan watchOutcome, 1),
		logger: logger,
	}
	go w.run(ctx)
	return w
}

func (w *watchdog) run(ctx context.Context) {
	var deadline <-chan time.Time
	if w.wall > 0 {
		t := time.NewTimer(w.wall)
		defer t.Stop()
		deadline = t.C
	}

	var out watchOutcome
	select {
	case <-w.exited:
		w.done <- out
		return
	case <-deadline:
		out.fired, out.cause = true, TimedOut
	case <-ctx.Done():
		out.fired, out.cause = true, Killed
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.cause = TimedOut
		}
	}

	if !w.signal("terminate", terminateGroup) {
		// The child exited on its own before the signal went out.
		w.done <- watchOutcome{}
		return
	}

	grace := time.NewTimer(w.grace)
	defer grace.Stop()
	select {
	case <-w.exited:
	case <-grace.C:
		out.escalated = w.signal("kill", killGroup)
	}
	w.done <- out
}

// signal sends sig to the child's group unless the child has already
// exited, and reports whether it was sent.
func (w *watchdog) signal(op string, sig func(*os.Process) error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gone {
		return false
	}
	if err := sig(w.proc); err != nil {
		w.logger.Warn("sandbox "+op+" failed", slog.Int("pid", w.proc.Pid), slog.String("error", err.Error()))
	}
	return true
}

// markExited records that the child has exited. Safe to call more than once.
func (w *watchdog) markExited() {
	w.exitOnce.Do(func() {
		w.mu.Lock()
		w.gone = true
		w.mu.Unlock()
		close(w.exited)
	})
}

// stop marks the child exited and returns what the watchdog did.
func (w *watchdog) stop() watchOutcome {
	w.markExited()
	return <-w.done
}
