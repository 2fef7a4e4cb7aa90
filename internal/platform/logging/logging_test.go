package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/next-trace/scg-device-relay/internal/platform/logging"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}

	for in, want := range cases {
		if got := logging.ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer

	logger := logging.New(&buf, logging.Config{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown", "topic", "devices")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info record leaked: %s", buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v (%s)", err, buf.String())
	}

	if rec["msg"] != "shown" || rec["topic"] != "devices" {
		t.Fatalf("record = %v", rec)
	}
}
