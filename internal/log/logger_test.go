package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMultiHandlerFansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multi{hs: []slog.Handler{
		slog.NewJSONHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	}}
	logger := slog.New(h).With("component", "test")
	logger.Info("hello", "n", 1)

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("handler %s: %v", name, err)
		}
		if rec["msg"] != "hello" || rec["component"] != "test" {
			t.Errorf("handler %s record = %v", name, rec)
		}
	}
}

func TestMultiHandlerEnabled(t *testing.T) {
	quiet := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError})
	chatty := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := &multi{hs: []slog.Handler{quiet, chatty}}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("multi must be enabled when any handler is")
	}
}

func TestNewBuildsLogger(t *testing.T) {
	if New(Options{Level: "debug", Format: "json"}) == nil {
		t.Fatal("nil logger")
	}
	if New(Options{}) == nil {
		t.Fatal("nil logger for zero options")
	}
}
