package shell

import (
	"context"
	"os/exec"
	"runtime"
	"slices"
	"testing"

	"github.com/google/shlex"
)

var quoteCases = []string{
	"",
	"plain",
	"hello world",
	"'",
	"''''",
	`"`,
	`"'"'`,
	`back\slash`,
	`trailing\`,
	"tab\there",
	"new\nline",
	"$HOME `id` $(id) ; | & > <",
	"*?[a-z]",
	"ünïcödé ✓",
	"-n",
	"~",
}

func TestQuoteSpecialCases(t *testing.T) {
	if got := Quote(""); got != "''" {
		t.Errorf("Quote(\"\") = %q, want ''", got)
	}
	if got := Quote("it's"); got != `'it'\''s'` {
		t.Errorf("Quote(it's) = %q, want %q", got, `'it'\''s'`)
	}
}

func TestQuoteRoundTripShlex(t *testing.T) {
	for _, s := range quoteCases {
		got, err := shlex.Split(Quote(s))
		if err != nil {
			t.Errorf("shlex.Split(Quote(%q)): %v", s, err)
			continue
		}
		if !slices.Equal(got, []string{s}) {
			t.Errorf("split(Quote(%q)) = %q, want [%q]", s, got, s)
		}
	}
}

func TestJoinRoundTripShlex(t *testing.T) {
	got, err := shlex.Split(Join(quoteCases))
	if err != nil {
		t.Fatalf("shlex.Split: %v", err)
	}
	if !slices.Equal(got, quoteCases) {
		t.Errorf("split(Join(cases)) = %q, want %q", got, quoteCases)
	}
}

func TestQuoteRoundTripShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	for _, s := range quoteCases {
		script := `printf '%s' ` + Quote(s)
		out, err := exec.CommandContext(context.Background(), "/bin/sh", "-c", script).Output()
		if err != nil {
			t.Fatalf("sh -c %q: %v", script, err)
		}
		if got := string(out); got != s {
			t.Errorf("sh saw %q, want %q", got, s)
		}
	}
}

func TestQuoteWindows(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", `""`},
		{"plain", `"plain"`},
		{"with space", `"with space"`},
		{`a"b`, `"a\"b"`},
		{`a\b`, `"a\b"`},
		{`a\"b`, `"a\\\"b"`},
		{`trailing\`, `"trailing\\"`},
		{`two\\`, `"two\\\\"`},
	}
	for _, tt := range tests {
		if got := QuoteWindows(tt.in); got != tt.want {
			t.Errorf("QuoteWindows(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX quoting expected")
	}
	name := "font name"
	var missing *string

	tests := []struct {
		name string
		args []any
		want string
	}{
		{"variadic", []any{"convert", "-font", "font name"}, `'convert' '-font' 'font name'`},
		{"single slice", []any{[]string{"convert", "-font", "font name"}}, `'convert' '-font' 'font name'`},
		{"nil skipped", []any{"a", nil, "b"}, `'a' 'b'`},
		{"pointers", []any{&name, missing}, `'font name'`},
		{"pointer slice", []any{[]*string{&name, nil}}, `'font name'`},
		{"number", []any{"head", "-n", 5}, `'head' '-n' '5'`},
		{"empty string kept", []any{""}, `''`},
		{"nothing", nil, ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Escape(tt.args...); got != tt.want {
				t.Errorf("Escape() = %s, want %s", got, tt.want)
			}
		})
	}
}
