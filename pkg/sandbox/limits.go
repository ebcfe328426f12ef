package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Limit keys accepted by ParseLimits.
const (
	LimitCPUTime  = "time"
	LimitWallTime = "walltime"
	LimitMemory   = "memory"
	LimitFileSize = "filesize"
	LimitOutput   = "output"
)

// Limits caps an invocation. A zero field means unlimited, subject to the
// backend's own ceilings.
type Limits struct {
	CPUTime  time.Duration
	WallTime time.Duration
	Memory   int64 // address space, bytes
	FileSize int64 // largest writable file, bytes
	Output   int64 // captured bytes per stream
}

func ParseLimits(m map[string]string) (Limits, error) {
	return Limits{}.Merge(m)
}

// Merge returns l with the keys of m applied on top. Keys are applied in
// sorted order so the reported error is stable.
func (l Limits) Merge(m map[string]string) (Limits, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := strings.TrimSpace(m[k])
		var err error
		switch strings.ToLower(k) {
		case LimitCPUTime:
			l.CPUTime, err = parseLimitDuration(v)
		case LimitWallTime:
			l.WallTime, err = parseLimitDuration(v)
		case LimitMemory:
			l.Memory, err = parseLimitSize(v)
		case LimitFileSize:
			l.FileSize, err = parseLimitSize(v)
		case LimitOutput:
			l.Output, err = parseLimitSize(v)
		default:
			return l, fmt.Errorf("%w: unknown key %q", ErrInvalidLimit, k)
		}
		if err != nil {
			return l, fmt.Errorf("%w: %s=%q: %w", ErrInvalidLimit, k, v, err)
		}
	}
	return l, nil
}

// Over returns l with every zero field taken from base.
func (l Limits) Over(base Limits) Limits {
	if l.CPUTime == 0 {
		l.CPUTime = base.CPUTime
	}
	if l.WallTime == 0 {
		l.WallTime = base.WallTime
	}
	if l.Memory == 0 {
		l.Memory = base.Memory
	}
	if l.FileSize == 0 {
		l.FileSize = base.FileSize
	}
	if l.Output == 0 {
		l.Output = base.Output
	}
	return l
}

// Rlimited reports whether any kernel resource limit has to be applied to
// the child.
func (l Limits) Rlimited() bool {
	return l.CPUTime > 0 || l.Memory > 0 || l.FileSize > 0
}

// Map renders l in the form ParseLimits accepts. Zero fields are omitted.
func (l Limits) Map() map[string]string {
	m := make(map[string]string)
	if l.CPUTime > 0 {
		m[LimitCPUTime] = l.CPUTime.String()
	}
	if l.WallTime > 0 {
		m[LimitWallTime] = l.WallTime.String()
	}
	if l.Memory > 0 {
		m[LimitMemory] = strconv.FormatInt(l.Memory, 10)
	}
	if l.FileSize > 0 {
		m[LimitFileSize] = strconv.FormatInt(l.FileSize, 10)
	}
	if l.Output > 0 {
		m[LimitOutput] = strconv.FormatInt(l.Output, 10)
	}
	return m
}

// parseLimitDuration accepts Go durations ("250ms", "2m") or bare seconds
// ("10", "0.5").
func parseLimitDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) || secs*float64(time.Second) >= math.MaxInt64 {
			return 0, fmt.Errorf("out of range")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return d, nil
}

var sizeSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"G", 1 << 30},
	{"M", 1 << 20},
	{"K", 1 << 10},
	{"B", 1},
}

// parseLimitSize accepts bare bytes or a KB/MB/GB suffix (1024-based).
func parseLimitSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	upper := strings.ToUpper(s)
	mult := int64(1)
	for _, sf := range sizeSuffixes {
		if strings.HasSuffix(upper, sf.suffix) {
			upper = strings.TrimSpace(strings.TrimSuffix(upper, sf.suffix))
			mult = sf.mult
			break
		}
	}
	n, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return 0, fmt.Errorf("not a size")
	}
	if n < 0 || math.IsNaN(n) || n*float64(mult) >= math.MaxInt64 {
		return 0, fmt.Errorf("out of range")
	}
	return int64(n * float64(mult)), nil
}
