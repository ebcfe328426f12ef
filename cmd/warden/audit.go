package warden

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/warden/pkg/audit"
	"github.com/igorsilveira/warden/pkg/shell"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View recorded executions",
	RunE:  runAudit,
}

var (
	auditProgram string
	auditReason  string
	auditBackend string
	auditLimit   int
	auditSince   string
)

func init() {
	auditCmd.Flags().StringVar(&auditProgram, "program", "", "filter by program (argv[0])")
	auditCmd.Flags().StringVar(&auditReason, "reason", "", "filter by outcome (normal, timed_out, killed, limit_exceeded, backend_unavailable, error)")
	auditCmd.Flags().StringVar(&auditBackend, "backend", "", "filter by backend")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "show entries since (e.g. 2024-01-01 or 2h)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	auditLog, err := audit.Open(cfg.Audit.DSN)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	filter := audit.Filter{
		Program: auditProgram,
		Reason:  auditReason,
		Backend: auditBackend,
		Limit:   auditLimit,
	}
	if auditSince != "" {
		since, err := parseSince(auditSince, time.Now())
		if err != nil {
			return err
		}
		filter.Since = since
	}

	entries, err := auditLog.Query(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("querying audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No executions recorded.")
		return nil
	}

	for _, e := range entries {
		ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
		outcome := fmt.Sprintf("%s/%d", e.Reason, e.ExitCode)
		if e.ErrorKind != "" {
			outcome = e.ErrorKind
		}
		fmt.Fprintf(out, "[%s] %-8s %-22s %6dms  %s\n",
			ts, e.Backend, outcome, e.DurationMS, shell.Join(e.Args()),
		)
	}

	fmt.Fprintf(out, "\n%d entries\n", len(entries))
	return nil
}

// parseSince accepts a date (YYYY-MM-DD) or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d).UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q (use YYYY-MM-DD or a duration like 2h)", s)
	}
	return t.UTC(), nil
}
