package sandbox

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// DefaultMaxOutputBytes bounds a captured stream when nothing smaller is
// configured.
const DefaultMaxOutputBytes = 8 << 20

// Spec describes one invocation. Backends receive it read-only.
type Spec struct {
	Argv         []string
	Env          map[string]string
	ExactEnv     bool // child sees only Env, not the ambient environment
	Dir          string
	Input        []byte // nil: stdin is the null device
	Limits       Limits
	Restrictions Restriction
	MergeStderr  bool

	// OutputCeiling caps each captured stream in bytes. Zero defers to
	// Limits.Output and then to the backend ceiling.
	OutputCeiling int64
}

func (s *Spec) Validate() error {
	if len(s.Argv) == 0 || s.Argv[0] == "" {
		return fmt.Errorf("%w: empty program", ErrInvalidSpec)
	}
	for i, a := range s.Argv {
		if strings.IndexByte(a, 0) >= 0 {
			return fmt.Errorf("%w: argument %d contains NUL", ErrInvalidSpec, i)
		}
	}
	for k, v := range s.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("%w: invalid environment name %q", ErrInvalidSpec, k)
		}
		if strings.IndexByte(v, 0) >= 0 {
			return fmt.Errorf("%w: environment %s contains NUL", ErrInvalidSpec, k)
		}
	}
	return nil
}

func (s *Spec) Clone() *Spec {
	c := *s
	c.Argv = slices.Clone(s.Argv)
	c.Env = maps.Clone(s.Env)
	if s.Input != nil {
		c.Input = slices.Clone(s.Input)
	}
	return &c
}

// Environ returns the child environment: base overlaid with Env, or Env
// alone when ExactEnv is set. Overrides are appended in sorted key order.
// The result is never nil, so an exact empty environment stays empty when
// handed to os/exec.
func (s *Spec) Environ(base []string) []string {
	env := make([]string, 0, len(base)+len(s.Env))
	if !s.ExactEnv {
		for _, kv := range base {
			k, _, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			if _, overridden := s.Env[k]; overridden {
				continue
			}
			env = append(env, kv)
		}
	}

	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// Ceiling is the effective per-stream capture limit: the smallest non-zero
// of OutputCeiling, Limits.Output and backendMax.
func (s *Spec) Ceiling(backendMax int64) int64 {
	ceiling := int64(0)
	for _, c := range []int64{s.OutputCeiling, s.Limits.Output, backendMax} {
		if c > 0 && (ceiling == 0 || c < ceiling) {
			ceiling = c
		}
	}
	if ceiling == 0 {
		ceiling = DefaultMaxOutputBytes
	}
	return ceiling
}
