package acmelog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewRequiresASink(t *testing.T) {
	_, err := New(Config{Level: LevelInfo})
	if err == nil {
		t.Fatal("expected an error when neither Stderr nor Syslog is set")
	}
}

func TestLevelToSlog(t *testing.T) {
	cases := map[string]slog.Level{
		LevelError: slog.LevelError,
		LevelWarn:  slog.LevelWarn,
		LevelInfo:  slog.LevelInfo,
		LevelDebug: slog.LevelDebug,
		LevelTrace: slog.LevelDebug,
	}
	for name, want := range cases {
		got, err := levelToSlog(name)
		if err != nil {
			t.Fatalf("levelToSlog(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("levelToSlog(%q) = %v, want %v", name, got, want)
		}
	}

	if _, err := levelToSlog("bogus"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestChecksumWriterPrefixesEachLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewChecksumWriter(&buf)

	line := []byte(`{"msg":"hello"}` + "\n")
	if _, err := w.Write(line); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := buf.String()
	sp := strings.IndexByte(out, ' ')
	if sp < 0 {
		t.Fatalf("expected a checksum prefix, got %q", out)
	}
	prefix, rest := out[:sp], out[sp+1:]
	if prefix != LogLineChecksum(string(line)) {
		t.Errorf("checksum prefix = %q, want %q", prefix, LogLineChecksum(string(line)))
	}
	if rest != string(line) {
		t.Errorf("payload = %q, want %q", rest, string(line))
	}
}

func TestTraceSetsAttribute(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := slog.New(h)

	Trace(l, "wire dump", slog.String("url", "https://example.test/acme/new-order"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if rec["trace"] != true {
		t.Errorf("trace attribute = %v, want true", rec["trace"])
	}
	if rec["url"] != "https://example.test/acme/new-order" {
		t.Errorf("url attribute = %v, want the wire URL", rec["url"])
	}
}

func TestSingletonGetFallsBackToDefault(t *testing.T) {
	// A fresh package-level singleton (the package under test hasn't called
	// Set in this process) must not panic.
	if Get() == nil {
		t.Fatal("Get() returned nil logger")
	}
}
