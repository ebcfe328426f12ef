package warden

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/igorsilveira/warden/pkg/config"
	"github.com/igorsilveira/warden/pkg/remote"
	"github.com/igorsilveira/warden/pkg/sandbox"
	"github.com/igorsilveira/warden/pkg/sandbox/bwrap"
	"github.com/igorsilveira/warden/pkg/shell"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose issues with the Warden installation",
	RunE:  runDoctor,
}

type checkResult struct {
	name   string
	ok     bool
	detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Warden Doctor v%s\n", version)
	fmt.Fprintf(out, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(out, "Go: %s\n\n", runtime.Version())

	cfg, cfgCheck := checkConfig()
	checks := []checkResult{
		checkSpawn(),
		checkShell(cfg),
		cfgCheck,
		checkDataDir(),
		checkAudit(cfg),
		checkBwrap(cfg),
		checkSeccomp(),
		checkContainer(cfg),
		checkRemote(cmd.Context(), cfg),
		checkService(cfg),
	}

	passed, failed := 0, 0
	for _, c := range checks {
		status := "✓"
		if !c.ok {
			status = "✗"
			failed++
		} else {
			passed++
		}
		fmt.Fprintf(out, "  %s %s: %s\n", status, c.name, c.detail)
	}

	fmt.Fprintf(out, "\n%d passed, %d failed\n", passed, failed)

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}

func checkSpawn() checkResult {
	if shell.IsDisabled() {
		return checkResult{"Process spawning", false, "disabled on this platform or by $" + shell.DisableEnv}
	}
	return checkResult{"Process spawning", true, "available"}
}

func checkShell(cfg *config.Config) checkResult {
	interp := cfg.Shell.Interpreter
	if interp == "" {
		interp = "/bin/sh"
	}
	exe := sandbox.NewLocalExecutor(sandbox.LocalConfig{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := exe.Execute(ctx, sandbox.Request{Spec: &sandbox.Spec{Argv: []string{interp, "-c", "echo ok"}}})
	if err != nil {
		return checkResult{"Interpreter", false, err.Error()}
	}
	if !res.Succeeded() || string(res.Stdout) != "ok\n" {
		return checkResult{"Interpreter", false, fmt.Sprintf("%s exited %d (%s)", interp, res.ExitCode, res.Reason)}
	}
	return checkResult{"Interpreter", true, fmt.Sprintf("%s runs (%s)", interp, res.Duration.Round(time.Millisecond))}
}

func checkConfig() (*config.Config, checkResult) {
	path := configPath()
	if _, err := os.Stat(path); err != nil {
		return config.Default(), checkResult{"Config file", true, fmt.Sprintf("%s not found (using defaults)", path)}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Default(), checkResult{"Config file", false, err.Error()}
	}
	return cfg, checkResult{"Config file", true, fmt.Sprintf("%s (backend %s, isolation %s)", path, cfg.Shell.Backend, cfg.Shell.Isolation)}
}

func checkDataDir() checkResult {
	dir := config.DataDir()
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"Data directory", false, fmt.Sprintf("%s does not exist", dir)}
	}
	if !info.IsDir() {
		return checkResult{"Data directory", false, fmt.Sprintf("%s is not a directory", dir)}
	}
	return checkResult{"Data directory", true, dir}
}

func checkAudit(cfg *config.Config) checkResult {
	if !cfg.Audit.Enabled {
		return checkResult{"Audit log", true, "disabled"}
	}
	info, err := os.Stat(cfg.Audit.DSN)
	if err != nil {
		return checkResult{"Audit log", true, fmt.Sprintf("%s not found (will be created on first run)", cfg.Audit.DSN)}
	}
	return checkResult{"Audit log", true, fmt.Sprintf("%s (%d KB)", cfg.Audit.DSN, info.Size()/1024)}
}

func checkBwrap(cfg *config.Config) checkResult {
	path, err := bwrap.FindBwrap(cfg.Shell.Bwrap.Path)
	required := cfg.Shell.Isolation == config.IsolationBwrap
	if err != nil {
		return checkResult{"Bubblewrap", !required, "not found (needed for isolation = \"bwrap\")"}
	}
	return checkResult{"Bubblewrap", true, path}
}

func checkSeccomp() checkResult {
	prog, err := bwrap.DenyListProgram()
	if err != nil {
		return checkResult{"Seccomp filter", runtime.GOOS != "linux", err.Error()}
	}
	return checkResult{"Seccomp filter", true, fmt.Sprintf("%d instructions", len(prog)/8)}
}

func checkContainer(cfg *config.Config) checkResult {
	required := cfg.Shell.Isolation == config.IsolationContainer
	rt := cfg.Shell.Container.Runtime
	if rt == "" {
		rt = sandbox.DetectContainerRuntime()
	}
	if rt == "" {
		return checkResult{"Container runtime", !required, "no container runtime found (needed for isolation = \"container\")"}
	}
	path, err := exec.LookPath(rt)
	if err != nil {
		return checkResult{"Container runtime", !required, fmt.Sprintf("%s not found", rt)}
	}
	return checkResult{"Container runtime", true, fmt.Sprintf("%s at %s", rt, path)}
}

func checkRemote(ctx context.Context, cfg *config.Config) checkResult {
	if cfg.Shell.Backend != config.BackendRemote {
		return checkResult{"Remote backend", true, "not configured"}
	}
	exe, err := remote.NewExecutor(remote.ClientConfig{
		URL:     cfg.Remote.URL,
		APIKey:  os.Getenv(cfg.Remote.APIKeyEnv),
		Timeout: 3 * time.Second,
	}, nil)
	if err != nil {
		return checkResult{"Remote backend", false, err.Error()}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := exe.Health(ctx); err != nil {
		return checkResult{"Remote backend", false, err.Error()}
	}
	return checkResult{"Remote backend", true, cfg.Remote.URL}
}

func checkService(cfg *config.Config) checkResult {
	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return checkResult{"Local service", true, "not running (optional)"}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return checkResult{"Local service", true, fmt.Sprintf("running at :%d", cfg.Server.Port)}
	}
	return checkResult{"Local service", false, fmt.Sprintf("unhealthy (status %d)", resp.StatusCode)}
}
