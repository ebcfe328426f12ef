package warden

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/igorsilveira/warden/pkg/sandbox"
)

// Exit statuses for abnormal terminations, following timeout(1) and
// sysexits(3).
const (
	exitTimedOut      = 124
	exitLimitExceeded = 125
	exitKilled        = 137
	exitUnavailable   = 69
	exitFailure       = 1
)

// ExitError carries the process exit status out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

var runCmd = &cobra.Command{
	Use:   "run [flags] -- program [args...]",
	Short: "Run a command under the configured limits and sandbox",
	RunE:  runRun,
}

var (
	runLine          string
	runInput         string
	runInputFile     string
	runEnv           []string
	runExactEnv      bool
	runWorkdir       string
	runLimits        []string
	runRestrict      string
	runMergeStderr   bool
	runOutputCeiling int64
	runJSON          bool
	runBackend       string
)

func init() {
	f := runCmd.Flags()
	f.StringVar(&runLine, "line", "", "command line to split into argv instead of positional args")
	f.StringVar(&runInput, "input", "", "payload written to stdin")
	f.StringVar(&runInputFile, "input-file", "", "file whose contents are written to stdin (- for this process's stdin)")
	f.StringArrayVar(&runEnv, "env", nil, "environment override KEY=VALUE (repeatable)")
	f.BoolVar(&runExactEnv, "exact-env", false, "pass only the --env variables")
	f.StringVar(&runWorkdir, "workdir", "", "working directory")
	f.StringArrayVar(&runLimits, "limit", nil, "limit key=value, keys: time, walltime, memory, filesize, output (repeatable)")
	f.StringVar(&runRestrict, "restrict", "", "restriction set, e.g. default,no_network")
	f.BoolVar(&runMergeStderr, "merge-stderr", false, "merge stderr into stdout")
	f.Int64Var(&runOutputCeiling, "output-ceiling", 0, "max captured bytes per stream")
	f.BoolVar(&runJSON, "json", false, "print the result as JSON")
	f.StringVar(&runBackend, "backend", "", "override the configured backend (local or remote)")
}

func runRun(cmd *cobra.Command, args []string) error {
	argv, err := runArgv(args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, cmd.ErrOrStderr(), runBackend)
	if err != nil {
		return err
	}
	defer a.Close()

	c := a.factory.Command(argv...).
		ExactEnvironment(runExactEnv).
		WorkingDirectory(runWorkdir).
		IncludeStderr(runMergeStderr).
		OutputCeiling(runOutputCeiling)

	env, err := parsePairs(runEnv, "--env")
	if err != nil {
		return err
	}
	if len(env) > 0 {
		c.Environment(env)
	}
	limits, err := parsePairs(runLimits, "--limit")
	if err != nil {
		return err
	}
	if len(limits) > 0 {
		c.Limits(limits)
	}
	if runRestrict != "" {
		r, err := sandbox.ParseRestriction(runRestrict)
		if err != nil {
			return err
		}
		c.Restrict(r)
	}
	input, err := readInput()
	if err != nil {
		return err
	}
	if input != nil {
		c.Input(input)
	}

	res, err := c.Execute(ctx)
	if err != nil {
		if errors.Is(err, sandbox.ErrBackendUnavailable) {
			return &ExitError{Code: exitUnavailable, Err: err}
		}
		return &ExitError{Code: exitFailure, Err: err}
	}

	if runJSON {
		if err := writeJSONResult(cmd, res); err != nil {
			return err
		}
	} else {
		cmd.OutOrStdout().Write(res.Stdout)
		cmd.ErrOrStderr().Write(res.Stderr)
	}

	if code := exitCode(res); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

func runArgv(args []string) ([]string, error) {
	if runLine != "" {
		if len(args) > 0 {
			return nil, errors.New("use either --line or positional arguments, not both")
		}
		argv, err := shlex.Split(runLine)
		if err != nil {
			return nil, fmt.Errorf("splitting --line: %w", err)
		}
		if len(argv) == 0 {
			return nil, errors.New("--line is empty")
		}
		return argv, nil
	}
	if len(args) == 0 {
		return nil, errors.New("no command given")
	}
	return args, nil
}

func parsePairs(pairs []string, flag string) (map[string]string, error) {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%s %q: want key=value", flag, p)
		}
		m[k] = v
	}
	return m, nil
}

func readInput() ([]byte, error) {
	switch {
	case runInput != "" && runInputFile != "":
		return nil, errors.New("use either --input or --input-file, not both")
	case runInput != "":
		return []byte(runInput), nil
	case runInputFile == "-":
		return io.ReadAll(os.Stdin)
	case runInputFile != "":
		data, err := os.ReadFile(runInputFile)
		if err != nil {
			return nil, fmt.Errorf("reading --input-file: %w", err)
		}
		return data, nil
	}
	return nil, nil
}

func exitCode(res *sandbox.Result) int {
	switch res.Reason {
	case sandbox.TimedOut:
		return exitTimedOut
	case sandbox.Killed:
		return exitKilled
	case sandbox.LimitExceeded:
		return exitLimitExceeded
	case sandbox.BackendUnavailable:
		return exitUnavailable
	}
	if res.ExitCode < 0 {
		return exitFailure
	}
	return res.ExitCode
}

type runReport struct {
	ExitCode        int    `json:"exit_code"`
	Reason          string `json:"reason"`
	Signal          string `json:"signal,omitempty"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutTruncated bool   `json:"stdout_truncated"`
	StderrTruncated bool   `json:"stderr_truncated"`
	StdoutBytes     int64  `json:"stdout_bytes"`
	StderrBytes     int64  `json:"stderr_bytes"`
	DurationMS      int64  `json:"duration_ms"`
	Backend         string `json:"backend"`
	IOError         string `json:"io_error,omitempty"`
}

func writeJSONResult(cmd *cobra.Command, res *sandbox.Result) error {
	report := runReport{
		ExitCode:        res.ExitCode,
		Reason:          res.Reason.String(),
		Signal:          res.Signal,
		Stdout:          string(res.Stdout),
		Stderr:          string(res.Stderr),
		StdoutTruncated: res.StdoutTruncated,
		StderrTruncated: res.StderrTruncated,
		StdoutBytes:     res.StdoutBytes,
		StderrBytes:     res.StderrBytes,
		DurationMS:      res.Duration.Milliseconds(),
		Backend:         res.Backend,
	}
	if res.IOError != nil {
		report.IOError = res.IOError.Error()
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// runContext returns the command's context, or Background when the command
// runs outside Execute.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
