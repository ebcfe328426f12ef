//go:build !linux || !(amd64 || arm64)

package bwrap

import (
	"fmt"
	"runtime"
)

func DenyListProgram() ([]byte, error) {
	return nil, fmt.Errorf("seccomp filter not available on %s/%s", runtime.GOOS, runtime.GOARCH)
}
