package sandbox

import (
	"fmt"
	"strings"
)

// Restriction is a bitmask of isolation requests forwarded to the isolation
// layer. The bit values are shared with remote sandboxing services and must
// not be renumbered.
type Restriction uint32

const (
	NoRoot            Restriction = 1 << iota // drop to an unprivileged user
	Seccomp                                   // deny dangerous syscalls
	PrivateDev                                // private /dev
	NoNetwork                                 // no network access
	NoExecve                                  // deny further execve
	NoSensitiveConfig                         // hide the host's secret configuration
)

const (
	RestrictNone Restriction = 0

	// RestrictDefault is the recommended set for untrusted input. Its exact
	// bits may change between releases.
	RestrictDefault = NoRoot | Seccomp | PrivateDev | NoSensitiveConfig

	restrictAll = NoRoot | Seccomp | PrivateDev | NoNetwork | NoExecve | NoSensitiveConfig
)

var restrictionNames = []struct {
	bit  Restriction
	name string
}{
	{NoRoot, "no_root"},
	{Seccomp, "seccomp"},
	{PrivateDev, "private_dev"},
	{NoNetwork, "no_network"},
	{NoExecve, "no_execve"},
	{NoSensitiveConfig, "no_sensitive_config"},
}

func (r Restriction) Has(bits Restriction) bool {
	return r&bits == bits
}

func (r Restriction) With(bits Restriction) Restriction {
	return r | bits
}

func (r Restriction) Without(bits Restriction) Restriction {
	return r &^ bits
}

// Unknown returns the set bits that name no restriction.
func (r Restriction) Unknown() Restriction {
	return r &^ restrictAll
}

// Names lists the set bits in ascending order. Unknown bits are rendered as
// hex so they survive a log line.
func (r Restriction) Names() []string {
	var names []string
	rest := r
	for _, n := range restrictionNames {
		if r.Has(n.bit) {
			names = append(names, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return names
}

func (r Restriction) String() string {
	if r == RestrictNone {
		return "none"
	}
	return strings.Join(r.Names(), "|")
}

// ParseRestriction parses a list of restriction names separated by "," or
// "|". "none" and "default" name the two predefined sets, and a name
// prefixed with "-" removes that bit, so "default,-no_sensitive_config" is
// the default set without sensitive-config hiding.
func ParseRestriction(s string) (Restriction, error) {
	var r Restriction
	fields := strings.FieldsFunc(s, func(c rune) bool { return c == ',' || c == '|' || c == ' ' })
	for _, f := range fields {
		remove := strings.HasPrefix(f, "-")
		name := strings.ToLower(strings.TrimPrefix(f, "-"))

		var bits Restriction
		switch name {
		case "none":
			bits = RestrictNone
		case "default":
			bits = RestrictDefault
		case "all":
			bits = restrictAll
		default:
			found := false
			for _, n := range restrictionNames {
				if n.name == name {
					bits, found = n.bit, true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("sandbox: unknown restriction %q", f)
			}
		}

		if remove {
			r = r.Without(bits)
		} else {
			r = r.With(bits)
		}
	}
	return r, nil
}
