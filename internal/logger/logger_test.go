package logger

import "testing"

func TestTruncate(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "hello..."},
		{"zero limit", "hello", 0, ""},
		{"trims whitespace", "  hello  ", 10, "hello"},
		{"multibyte", "привет мир", 6, "привет..."},
	}

	for _, tc := range cases {
		if got := Truncate(tc.in, tc.limit); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestNew(t *testing.T) {
	for _, json := range []bool{true, false} {
		logger, err := New(json, true)
		if err != nil {
			t.Fatalf("building logger (json=%v): %v", json, err)
		}
		if !logger.Core().Enabled(-1) { // zapcore.DebugLevel
			t.Fatal("debug level must be enabled")
		}
	}
}
