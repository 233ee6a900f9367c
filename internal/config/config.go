package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = "/ip4/127.0.0.1/tcp/7717"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultThrottleIdleTTL = 10 * time.Minute
)

// Config is the resolved device configuration.
type Config struct {
	Listen      string
	MetricsAddr string

	Identity      string
	IdentityFile  string
	UDS           string
	AppImagePath  string
	USSPassphrase string

	LogLevel  string
	LogFormat string

	TransferIdleTimeout time.Duration
	ThrottlePerSecond   float64
	ThrottleBurst       int
}

func Default() Config {
	return Config{
		Listen:    DefaultListen,
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
	}
}

// File mirrors config.yaml. Unset fields leave the defaults alone.
type File struct {
	Device   DeviceSection   `yaml:"device"`
	Identity IdentitySection `yaml:"identity"`
	Log      LogSection      `yaml:"log"`
	Transfer TransferSection `yaml:"transfer"`
	Throttle ThrottleSection `yaml:"throttle"`
}

type DeviceSection struct {
	Listen      string `yaml:"listen"`
	MetricsAddr string `yaml:"metricsAddr"`
}

type IdentitySection struct {
	Secret        string `yaml:"secret"`
	File          string `yaml:"file"`
	UDS           string `yaml:"uds"`
	AppImage      string `yaml:"appImage"`
	USSPassphrase string `yaml:"ussPassphrase"`
}

type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TransferSection struct {
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

type ThrottleSection struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

// LoadFromPath reads configPath, or the first readable default location when
// configPath is empty, merges it over Default and applies env overrides. A
// missing default file is not an error; an explicit path that cannot be read
// or parsed is.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	candidates := []string{configPath}
	if configPath == "" {
		candidates = []string{"configs/totp-device.yaml", "totp-device.yaml"}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return cfg, fmt.Errorf("read config: %w", err)
			}
			continue
		}
		var parsed File
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

func Merge(dst *Config, src File) {
	if src.Device.Listen != "" {
		dst.Listen = src.Device.Listen
	}
	if src.Device.MetricsAddr != "" {
		dst.MetricsAddr = src.Device.MetricsAddr
	}
	if src.Identity.Secret != "" {
		dst.Identity = src.Identity.Secret
	}
	if src.Identity.File != "" {
		dst.IdentityFile = src.Identity.File
	}
	if src.Identity.UDS != "" {
		dst.UDS = src.Identity.UDS
	}
	if src.Identity.AppImage != "" {
		dst.AppImagePath = src.Identity.AppImage
	}
	if src.Identity.USSPassphrase != "" {
		dst.USSPassphrase = src.Identity.USSPassphrase
	}
	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.LogFormat = src.Log.Format
	}
	if src.Transfer.IdleTimeout != 0 {
		dst.TransferIdleTimeout = src.Transfer.IdleTimeout
	}
	if src.Throttle.PerSecond != 0 {
		dst.ThrottlePerSecond = src.Throttle.PerSecond
	}
	if src.Throttle.Burst != 0 {
		dst.ThrottleBurst = src.Throttle.Burst
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := envString("TOTP_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := envString("TOTP_IDENTITY"); v != "" {
		cfg.Identity = v
	}
	if v := envString("TOTP_IDENTITY_FILE"); v != "" {
		cfg.IdentityFile = v
	}
	if v := envString("TOTP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envString("TOTP_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := envString("TOTP_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	cfg.TransferIdleTimeout = envDurationWithFallback("TOTP_TRANSFER_IDLE_TIMEOUT", cfg.TransferIdleTimeout)
	cfg.ThrottleBurst = envBoundedIntWithFallback("TOTP_THROTTLE_BURST", cfg.ThrottleBurst, 0, 1024)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("config: listen address is empty")
	}
	if c.TransferIdleTimeout < 0 {
		return fmt.Errorf("config: transfer idle timeout is negative")
	}
	if c.ThrottlePerSecond < 0 || c.ThrottleBurst < 0 {
		return fmt.Errorf("config: throttle values must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}
