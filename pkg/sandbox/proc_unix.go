//go:build unix

package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup asks every process in the child's group to exit.
func terminateGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGTERM)
}

func killGroup(p *os.Process) error {
	return signalGroup(p, unix.SIGKILL)
}

func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return nil
	}
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// exitSignal reports the signal that ended the process, if any, and
// whether it was a resource-limit signal.
func exitSignal(state *os.ProcessState) (name string, limit bool, ok bool) {
	if state == nil {
		return "", false, false
	}
	ws, isWait := state.Sys().(syscall.WaitStatus)
	if !isWait || !ws.Signaled() {
		return "", false, false
	}
	sig := unix.Signal(ws.Signal())
	return unix.SignalName(sig), sig == unix.SIGXCPU || sig == unix.SIGXFSZ, true
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, unix.EPIPE)
}
