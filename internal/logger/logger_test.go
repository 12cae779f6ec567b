package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"hello"`},
		{"text", "msg=hello"},
		{"pretty", "hello"},
		{"", "hello"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		log, err := Setup(&buf, tt.format, "info")
		if err != nil {
			t.Fatalf("Setup(%q): %v", tt.format, err)
		}
		log.Info("hello", "file", "a.dat")
		if !strings.Contains(buf.String(), tt.want) || !strings.Contains(buf.String(), "a.dat") {
			t.Fatalf("format %q: got %q want it to contain %q", tt.format, buf.String(), tt.want)
		}
	}

	if _, err := Setup(&bytes.Buffer{}, "xml", "info"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := Setup(&bytes.Buffer{}, "json", "loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("quiet")
	log.Debug("quieter")
	if buf.Len() > 0 {
		t.Fatalf("got output below warn level: %s", buf.String())
	}
	log.Warn("loud")
	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("got %s want a WARN record", buf.String())
	}
}

func TestPrettyHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, PrettyOptions{Level: slog.LevelDebug, NoColor: true})
	log := New(h).With("file", "x.dat").WithGroup("field")
	log.Debug("padded", "name", "FileLength", "note", "two words")

	out := buf.String()
	for _, want := range []string{"DEBUG", "padded", "file=x.dat", "field.name=FileLength", `field.note="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("got %q want it to contain %q", out, want)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Fatalf("NoColor output contains escapes: %q", out)
	}

	buf.Reset()
	New(NewPrettyHandler(&buf, PrettyOptions{})).Error("boom")
	if !strings.Contains(buf.String(), ansiRed) {
		t.Fatalf("error line not coloured: %q", buf.String())
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := Text(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), log)
	if FromContext(ctx) != log {
		t.Fatalf("FromContext did not return the stored logger")
	}
	// No logger stored: output is discarded, not panicking.
	FromContext(context.Background()).Info("nowhere")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) got %v, %v want %v", in, got, err, want)
		}
	}
}
