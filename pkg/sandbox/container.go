package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
)

const (
	containerWorkDir = "/workspace"
	nobodyUser       = "65534:65534"
)

type ContainerConfig struct {
	Runtime        string
	Image          string
	SensitivePaths []string
}

// ContainerIsolator runs each command in a throwaway container. The host
// filesystem is not visible except for the working directory.
type ContainerIsolator struct {
	runtime   string
	image     string
	sensitive []string
}

func NewContainerIsolator(cfg ContainerConfig) (*ContainerIsolator, error) {
	runtime := cfg.Runtime
	if runtime == "" {
		runtime = DetectContainerRuntime()
	}
	if runtime == "" {
		return nil, fmt.Errorf("sandbox: no container runtime found (install docker, podman, or nerdctl)")
	}

	image := cfg.Image
	if image == "" {
		image = "alpine:latest"
	}

	return &ContainerIsolator{
		runtime:   runtime,
		image:     image,
		sensitive: cfg.SensitivePaths,
	}, nil
}

func (c *ContainerIsolator) Name() string { return "container" }

func (c *ContainerIsolator) Prepare(_ context.Context, req IsolationRequest) (*Isolation, error) {
	if req.Restrictions.Has(NoExecve) {
		return nil, fmt.Errorf("%s cannot deny execve", c.runtime)
	}
	if req.Dir != "" && req.Restrictions.Has(NoSensitiveConfig) {
		if err := CheckNotExposed(req.Dir, c.sensitive); err != nil {
			return nil, err
		}
	}

	argv := append([]string{c.runtime}, c.buildRunArgs(req)...)
	argv = append(argv, req.Argv...)
	return &Isolation{Argv: argv}, nil
}

func (c *ContainerIsolator) buildRunArgs(req IsolationRequest) []string {
	args := []string{
		"run",
		"--rm",
		"--tmpfs", "/tmp:rw,nosuid,size=64m",
		"--pids-limit", "128",
	}
	if req.HasInput {
		args = append(args, "-i")
	}

	if req.Restrictions.Has(NoRoot) {
		args = append(args,
			"--user", nobodyUser,
			"--cap-drop", "ALL",
			"--security-opt", "no-new-privileges",
		)
	}
	if req.Restrictions.Has(NoNetwork) {
		args = append(args, "--network", "none")
	}
	// Seccomp and PrivateDev are the runtime defaults: the default seccomp
	// profile and a private /dev.
	if !req.Restrictions.Has(Seccomp) {
		args = append(args, "--security-opt", "seccomp=unconfined")
	}

	if req.Limits.Memory > 0 {
		args = append(args, "--memory", strconv.FormatInt(req.Limits.Memory, 10))
	}

	if req.Dir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s:rw", req.Dir, containerWorkDir))
		args = append(args, "-w", containerWorkDir)
	}

	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+req.Env[k])
	}

	args = append(args, c.image)
	return args
}

// DetectContainerRuntime returns the first container CLI found on PATH.
func DetectContainerRuntime() string {
	for _, rt := range []string{"docker", "podman", "nerdctl"} {
		if _, err := exec.LookPath(rt); err == nil {
			return rt
		}
	}
	return ""
}
