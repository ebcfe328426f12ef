// Package bwrap isolates commands with bubblewrap.
package bwrap

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Builder constructs bwrap arguments using a fluent interface.
type Builder struct {
	args        []string
	bwrapPath   string
	command     string
	commandArgs []string
	err         error
}

func NewBuilder() *Builder {
	return &Builder{
		args: make([]string, 0, 32),
	}
}

// BwrapPath sets the bwrap binary. If not set, FindBwrap is used.
func (b *Builder) BwrapPath(path string) *Builder {
	b.bwrapPath = path
	return b
}

// BindRoot exposes the host filesystem read-write at the same paths.
func (b *Builder) BindRoot() *Builder {
	b.args = append(b.args, "--bind", "/", "/")
	return b
}

// RoBindTo adds a read-only bind mount of src at dst.
func (b *Builder) RoBindTo(src, dst string) *Builder {
	b.args = append(b.args, "--ro-bind", src, dst)
	return b
}

// Tmpfs mounts an empty tmpfs at path.
func (b *Builder) Tmpfs(path string) *Builder {
	b.args = append(b.args, "--tmpfs", path)
	return b
}

// Dev mounts a minimal private /dev.
func (b *Builder) Dev() *Builder {
	b.args = append(b.args, "--dev", "/dev")
	return b
}

// DevBind exposes a host device path as-is.
func (b *Builder) DevBind(path string) *Builder {
	if pathExists(path) {
		b.args = append(b.args, "--dev-bind", path, path)
	}
	return b
}

func (b *Builder) UnshareNet() *Builder {
	b.args = append(b.args, "--unshare-net")
	return b
}

// UnprivilegedUser maps the child to uid/gid inside a new user namespace
// and drops every capability.
func (b *Builder) UnprivilegedUser(uid, gid int) *Builder {
	b.args = append(b.args,
		"--unshare-user",
		"--uid", strconv.Itoa(uid),
		"--gid", strconv.Itoa(gid),
		"--cap-drop", "ALL",
	)
	return b
}

// Seccomp installs the BPF program bwrap reads from fd before exec.
func (b *Builder) Seccomp(fd int) *Builder {
	if fd < 3 {
		b.err = fmt.Errorf("bwrap: seccomp fd %d collides with stdio", fd)
		return b
	}
	b.args = append(b.args, "--seccomp", strconv.Itoa(fd))
	return b
}

// DieWithParent kills the sandbox when the spawning process dies.
func (b *Builder) DieWithParent() *Builder {
	b.args = append(b.args, "--die-with-parent")
	return b
}

func (b *Builder) Chdir(path string) *Builder {
	b.args = append(b.args, "--chdir", path)
	return b
}

// Command sets the command to run inside the sandbox.
func (b *Builder) Command(cmd string, args ...string) *Builder {
	b.command = cmd
	b.commandArgs = args
	return b
}

// Build returns the bwrap binary and its complete argument list.
func (b *Builder) Build() (string, []string, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	if b.command == "" {
		return "", nil, errors.New("bwrap: no command")
	}

	bwrapPath := b.bwrapPath
	if bwrapPath == "" {
		var err error
		bwrapPath, err = FindBwrap("")
		if err != nil {
			return "", nil, err
		}
	}

	args := make([]string, 0, len(b.args)+2+len(b.commandArgs))
	args = append(args, b.args...)
	args = append(args, "--")
	args = append(args, b.command)
	args = append(args, b.commandArgs...)

	return bwrapPath, args, nil
}

// FindBwrap locates the bwrap binary. customPath wins when it exists.
func FindBwrap(customPath string) (string, error) {
	if customPath != "" {
		if pathExists(customPath) {
			return customPath, nil
		}
		return "", fmt.Errorf("bwrap: %s not found", customPath)
	}

	path, err := exec.LookPath("bwrap")
	if err != nil {
		return "", fmt.Errorf(`bwrap isolation enabled but bwrap not found

Install bubblewrap:
  Debian/Ubuntu:  apt install bubblewrap
  Fedora/RHEL:    dnf install bubblewrap
  Arch:           pacman -S bubblewrap

Or set shell.isolation = "none" and run without restrictions`)
	}
	return path, nil
}

// IsAvailable checks if bwrap is available on this system.
func IsAvailable(customPath string) bool {
	_, err := FindBwrap(customPath)
	return err == nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
