package shell

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
)

// DisableEnv, when set to a true value before the first probe, reports
// execution as disabled for the life of the process.
const DisableEnv = "WARDEN_SHELL_DISABLED"

var disabledState struct {
	sync.Mutex
	probed bool
	value  bool
}

// IsDisabled reports whether this process can spawn commands at all. The
// answer is computed once and cached; callers should check it before
// building commands.
func IsDisabled() bool {
	disabledState.Lock()
	defer disabledState.Unlock()
	if !disabledState.probed {
		disabledState.value = probeDisabled()
		disabledState.probed = true
	}
	return disabledState.value
}

// ResetDisabledCache forgets the cached probe. Tests only.
func ResetDisabledCache() {
	disabledState.Lock()
	disabledState.probed = false
	disabledState.Unlock()
}

func probeDisabled() bool {
	switch runtime.GOOS {
	case "js", "wasip1", "ios":
		slog.Debug("process spawning unavailable", slog.String("goos", runtime.GOOS))
		return true
	}
	if v, ok := os.LookupEnv(DisableEnv); ok {
		if off, err := strconv.ParseBool(v); err == nil && off {
			slog.Debug("process spawning disabled", slog.String("env", DisableEnv))
			return true
		}
	}
	return false
}
