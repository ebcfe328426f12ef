package shell

import (
	"fmt"
	"runtime"
	"strings"
)

// Quote returns token single-quoted for a POSIX shell. It works on bytes
// and never consults the locale.
func Quote(token string) string {
	if token == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(token, "'", `'\''`) + "'"
}

// QuoteWindows quotes token for CommandLineToArgvW: the token is wrapped in
// double quotes, backslashes before a quote or the closing quote are
// doubled, and embedded quotes are backslash-escaped.
func QuoteWindows(token string) string {
	var b strings.Builder
	b.Grow(len(token) + 2)
	b.WriteByte('"')
	slashes := 0
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch c {
		case '\\':
			slashes++
			continue
		case '"':
			b.WriteString(strings.Repeat(`\`, 2*slashes+1))
		default:
			b.WriteString(strings.Repeat(`\`, slashes))
		}
		b.WriteByte(c)
		slashes = 0
	}
	b.WriteString(strings.Repeat(`\`, 2*slashes))
	b.WriteByte('"')
	return b.String()
}

// Join quotes each element of argv for a POSIX shell and joins them with
// single spaces.
func Join(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Escape quotes its arguments for the host platform's shell and joins them
// with spaces. Arguments may be strings, *string, []string or []*string;
// nil entries are skipped.
func Escape(args ...any) string {
	quote := Quote
	if runtime.GOOS == "windows" {
		quote = QuoteWindows
	}

	var parts []string
	var add func(a any)
	add = func(a any) {
		switch v := a.(type) {
		case nil:
		case string:
			parts = append(parts, quote(v))
		case *string:
			if v != nil {
				parts = append(parts, quote(*v))
			}
		case []string:
			for _, s := range v {
				parts = append(parts, quote(s))
			}
		case []*string:
			for _, s := range v {
				add(s)
			}
		case []any:
			for _, s := range v {
				add(s)
			}
		default:
			parts = append(parts, quote(fmt.Sprint(v)))
		}
	}
	for _, a := range args {
		add(a)
	}
	return strings.Join(parts, " ")
}
