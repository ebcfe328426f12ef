//go:build !unix

package sandbox

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// Without process groups there is no graceful stop; both stages kill the
// direct child.
func terminateGroup(p *os.Process) error {
	return killGroup(p)
}

func killGroup(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}

func exitSignal(*os.ProcessState) (string, bool, bool) {
	return "", false, false
}

func isBrokenPipe(error) bool {
	return false
}
