package sandbox

import (
	"fmt"
	"math"
	"strings"
)

// rlimitExitCode is returned by the wrapper when the shell refuses a limit.
const rlimitExitCode = 125

// rlimitWrap prefixes argv with a shell that applies the kernel limits and
// then execs the program. The program's arguments are passed positionally
// and never interpolated into the script.
func rlimitWrap(shell string, l Limits, argv []string) []string {
	var script strings.Builder
	if l.CPUTime > 0 {
		// The kernel sends SIGKILL at the hard limit and SIGXCPU at the soft
		// one; keep hard a second above so the child sees SIGXCPU first.
		// Soft goes first: the hard limit may not drop below the current
		// soft one, which is usually unlimited.
		secs := int64(math.Ceil(l.CPUTime.Seconds()))
		fmt.Fprintf(&script, "ulimit -S -t %d || exit %d; ", secs, rlimitExitCode)
		fmt.Fprintf(&script, "ulimit -H -t %d || exit %d; ", secs+1, rlimitExitCode)
	}
	if l.Memory > 0 {
		fmt.Fprintf(&script, "ulimit -v %d || exit %d; ", ceilDiv(l.Memory, 1024), rlimitExitCode)
	}
	if l.FileSize > 0 {
		// POSIX sh counts -f in 512-byte blocks.
		fmt.Fprintf(&script, "ulimit -f %d || exit %d; ", ceilDiv(l.FileSize, 512), rlimitExitCode)
	}
	script.WriteString(`exec "$@"`)

	wrapped := make([]string, 0, 4+len(argv))
	wrapped = append(wrapped, shell, "-c", script.String(), "warden-limits")
	return append(wrapped, argv...)
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
