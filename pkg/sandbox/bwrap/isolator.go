package bwrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/igorsilveira/warden/pkg/sandbox"
)

const nobodyID = 65534

type Config struct {
	Path string

	// SensitivePaths are hidden when NoSensitiveConfig is requested:
	// files are shadowed by /dev/null, directories by an empty tmpfs.
	SensitivePaths []string
}

// Isolator implements sandbox.Isolator with bubblewrap.
type Isolator struct {
	path      string
	sensitive []string
	logger    *slog.Logger
}

func NewIsolator(cfg Config, logger *slog.Logger) (*Isolator, error) {
	path, err := FindBwrap(cfg.Path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Isolator{path: path, sensitive: cfg.SensitivePaths, logger: logger}, nil
}

func (i *Isolator) Name() string { return "bwrap" }

func (i *Isolator) Prepare(_ context.Context, req sandbox.IsolationRequest) (*sandbox.Isolation, error) {
	r := req.Restrictions
	if r == sandbox.RestrictNone {
		return sandbox.Passthrough(req), nil
	}
	if r.Has(sandbox.NoExecve) {
		return nil, fmt.Errorf("bwrap: denying execve is not supported")
	}

	b := NewBuilder().BwrapPath(i.path).BindRoot()
	if r.Has(sandbox.PrivateDev) {
		b.Dev()
	} else {
		b.DevBind("/dev")
	}
	if r.Has(sandbox.NoNetwork) {
		b.UnshareNet()
	}
	if r.Has(sandbox.NoRoot) {
		b.UnprivilegedUser(nobodyID, nobodyID)
	}
	if r.Has(sandbox.NoSensitiveConfig) {
		i.hideSensitive(b)
	}

	var extra []*os.File
	if r.Has(sandbox.Seccomp) {
		f, err := seccompFile()
		if err != nil {
			return nil, fmt.Errorf("bwrap: seccomp: %w", err)
		}
		b.Seccomp(3 + len(extra))
		extra = append(extra, f)
	}

	b.DieWithParent()
	if req.Dir != "" {
		b.Chdir(req.Dir)
	}
	b.Command(req.Argv[0], req.Argv[1:]...)

	path, args, err := b.Build()
	if err != nil {
		closeAll(extra)
		return nil, err
	}

	i.logger.Debug("bwrap prepared",
		slog.String("restrictions", r.String()),
		slog.Int("args", len(args)),
	)

	return &sandbox.Isolation{
		Argv:       append([]string{path}, args...),
		ExtraFiles: extra,
		Dir:        req.Dir,
		Cleanup:    func() { closeAll(extra) },
	}, nil
}

func (i *Isolator) hideSensitive(b *Builder) {
	for _, p := range i.sensitive {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.IsDir() {
			b.Tmpfs(p)
		} else {
			b.RoBindTo("/dev/null", p)
		}
	}
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// seccompFile returns the read end of a pipe holding the serialized deny
// list. The program is far smaller than a pipe buffer, so the write never
// blocks.
func seccompFile() (*os.File, error) {
	prog, err := DenyListProgram()
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(prog); err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}
