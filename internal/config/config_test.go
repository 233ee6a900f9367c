package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "totp-device.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPathMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  listen: /unix/tmp/totp.sock
identity:
  file: /etc/totp/cdi
log:
  format: text
transfer:
  idleTimeout: 30s
throttle:
  perSecond: 2
  burst: 4
`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Listen != "/unix/tmp/totp.sock" {
		t.Fatalf("unexpected listen: %q", cfg.Listen)
	}
	if cfg.IdentityFile != "/etc/totp/cdi" {
		t.Fatalf("unexpected identity file: %q", cfg.IdentityFile)
	}
	if cfg.LogFormat != "text" || cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("unexpected log settings: %q %q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.TransferIdleTimeout != 30*time.Second {
		t.Fatalf("unexpected idle timeout: %s", cfg.TransferIdleTimeout)
	}
	if cfg.ThrottlePerSecond != 2 || cfg.ThrottleBurst != 4 {
		t.Fatalf("unexpected throttle: %v/%d", cfg.ThrottlePerSecond, cfg.ThrottleBurst)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, "device:\n  listen: /ip4/127.0.0.1/tcp/1\n")
	t.Setenv("TOTP_LISTEN", "/ip4/127.0.0.1/tcp/2")
	t.Setenv("TOTP_LOG_LEVEL", "debug")
	t.Setenv("TOTP_TRANSFER_IDLE_TIMEOUT", "5s")
	t.Setenv("TOTP_THROTTLE_BURST", "99999")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Listen != "/ip4/127.0.0.1/tcp/2" {
		t.Fatalf("env should override listen, got %q", cfg.Listen)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("env should override level, got %q", cfg.LogLevel)
	}
	if cfg.TransferIdleTimeout != 5*time.Second {
		t.Fatalf("env should override idle timeout, got %s", cfg.TransferIdleTimeout)
	}
	if cfg.ThrottleBurst != 1024 {
		t.Fatalf("burst should be clamped, got %d", cfg.ThrottleBurst)
	}
}

func TestLoadFromPathErrors(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for explicit missing path")
	}
	if _, err := LoadFromPath(writeConfig(t, "device: [")); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadFromPath(writeConfig(t, "log:\n  format: xml\n")); err == nil {
		t.Fatal("expected validation error for log format")
	}
}

func TestInvalidDurationEnvKeepsFallback(t *testing.T) {
	t.Setenv("TOTP_TRANSFER_IDLE_TIMEOUT", "soon")
	cfg := Default()
	cfg.TransferIdleTimeout = time.Minute
	ApplyEnvOverrides(&cfg)
	if cfg.TransferIdleTimeout != time.Minute {
		t.Fatalf("unexpected idle timeout: %s", cfg.TransferIdleTimeout)
	}
}
