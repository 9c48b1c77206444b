package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for name, want := range cases {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLoggerCarriesServiceAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	zl := l.Zerolog()
	zl.Info().Msg("hidden")
	zl.Warn().Msg("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["service"] != "metastore" || lines[0]["message"] != "shown" {
		t.Errorf("unexpected line %v", lines[0])
	}
}

func TestComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.GrpcLogger("/metastore.v1.MetaStore/GetDocument").Info("hello").Send()
	l.StoreLogger("sqlite").LogStoreOperation("Get", time.Millisecond, 1, nil)
	l.LogGrpcRequest("/m", time.Millisecond, errors.New("boom"))

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0]["component"] != "grpc" || lines[0]["method"] != "/metastore.v1.MetaStore/GetDocument" {
		t.Errorf("grpc logger fields missing: %v", lines[0])
	}
	if lines[1]["backend"] != "sqlite" || lines[1]["operation"] != "Get" {
		t.Errorf("store logger fields missing: %v", lines[1])
	}
	if lines[2]["level"] != "error" || lines[2]["error"] != "boom" {
		t.Errorf("failed request not logged as error: %v", lines[2])
	}
	if lines[2]["component"] != "grpc" || lines[2]["method"] != "/m" {
		t.Errorf("request log missing grpc fields: %v", lines[2])
	}
}
