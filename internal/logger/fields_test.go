package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestStringFieldsSkipsEmptyEntries(t *testing.T) {
	fields := StringFields(
		StringField{Key: "board", Value: "remoteok"},
		StringField{Key: "  ", Value: "ignored"},
		StringField{Key: "model", Value: "   "},
	)

	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	if fields[0].Key != "board" {
		t.Fatalf("unexpected field key: %s", fields[0].Key)
	}
}

func TestWithFieldsNilLogger(t *testing.T) {
	logger := WithFields(nil, zap.String("board", "linkedin"))
	if logger == nil {
		t.Fatal("expected a usable logger")
	}
}

func TestWithTailor(t *testing.T) {
	base := zap.NewNop()

	if got := WithTailor(base, "", ""); got != base {
		t.Fatal("empty fields must return the input logger unchanged")
	}
	if got := WithTailor(base, "gemini", "gemini-2.5-flash"); got == base {
		t.Fatal("expected a child logger with tailor fields")
	}
}
