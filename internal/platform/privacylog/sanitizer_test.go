package privacylog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSanitizingHandlerFingerprintsRecordNames(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("test", "record_name", "github:alice", "session_id", "5b1f", "command", "ADD_TOKEN")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	got, _ := payload["record_name_fp"].(string)
	if !strings.HasPrefix(got, "fp_") || strings.Contains(buf.String(), "alice") {
		t.Fatalf("unexpected fingerprint value: %q in %s", got, buf.String())
	}
	if got != FingerprintID("github:alice") {
		t.Fatalf("fingerprint should be stable within a boot: %q", got)
	}
	if payload["command"] != "ADD_TOKEN" {
		t.Fatalf("expected untouched command, got %v", payload["command"])
	}
}

func TestSanitizingHandlerRedactsKeyMaterial(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("test", "record_name", "bank", "totp_key", "JBSWY3DPEHPK3PXP", "identity", "00ff", "key_len", 20, "status", "ok")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	if _, ok := payload["record_name"]; ok {
		t.Fatal("record_name should not be present")
	}
	if _, ok := payload["record_name_fp"]; !ok {
		t.Fatal("record_name_fp should be present")
	}
	for _, k := range []string{"totp_key", "identity"} {
		if got, _ := payload[k].(string); got != redactedValue {
			t.Fatalf("expected redacted %s, got %q", k, got)
		}
	}
	if got, _ := payload["key_len"].(float64); got != 20 {
		t.Fatalf("key_len should pass through, got %v", payload["key_len"])
	}
}

func TestSanitizingHandlerImplementsSlogHandlerContract(t *testing.T) {
	var buf bytes.Buffer
	h := WrapHandler(slog.NewJSONHandler(&buf, nil))
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("expected handler enabled for info")
	}
	rec := slog.NewRecord(time.Now().UTC(), slog.LevelInfo, "msg", 0)
	rec.AddAttrs(slog.String("session_id", "s1"))
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if !strings.Contains(buf.String(), "session_id_fp") {
		t.Fatalf("expected sanitized session_id key, got %s", buf.String())
	}
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown", "seed", "abc")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "seed="+redactedValue) {
		t.Fatalf("expected redacted seed in text output: %s", out)
	}
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatal("unexpected level parsing")
	}
}
