package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"totp-token/go-device/internal/app"
	"totp-token/go-device/internal/config"
	"totp-token/go-device/internal/identity"
	"totp-token/go-device/internal/metrics"
	"totp-token/go-device/internal/platform/privacylog"
	"totp-token/go-device/internal/platform/ratelimiter"
	"totp-token/go-device/internal/server"

	"github.com/spf13/pflag"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	fs := pflag.NewFlagSet("totp-device", pflag.ExitOnError)
	showVersion := fs.BoolP("version", "v", false, "print version and exit")
	configPath := fs.StringP("config", "c", "", "path to config yaml (optional)")
	listen := fs.String("listen", "", "channel multiaddr, e.g. /unix/tmp/totp.sock or /ip4/127.0.0.1/tcp/7717")
	secret := fs.String("identity", "", "device identity as hex:..., base58:... or mnemonic:...")
	secretFile := fs.String("identity-file", "", "file holding the device identity")
	metricsAddr := fs.String("metrics-addr", "", "loopback host:port for /metrics (off when empty)")
	logLevel := fs.String("log-level", "", "debug | info | warn | error")
	logFormat := fs.String("log-format", "", "json | text")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("totp-device version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "totp-device: %v\n", err)
		os.Exit(2)
	}
	overrideString(fs, "listen", &cfg.Listen, *listen)
	overrideString(fs, "identity", &cfg.Identity, *secret)
	overrideString(fs, "identity-file", &cfg.IdentityFile, *secretFile)
	overrideString(fs, "metrics-addr", &cfg.MetricsAddr, *metricsAddr)
	overrideString(fs, "log-level", &cfg.LogLevel, *logLevel)
	overrideString(fs, "log-format", &cfg.LogFormat, *logFormat)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "totp-device: %v\n", err)
		os.Exit(2)
	}

	logger := privacylog.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("totp-device failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov := identity.Provisioning{
		Identity:      cfg.Identity,
		IdentityFile:  cfg.IdentityFile,
		UDS:           cfg.UDS,
		USSPassphrase: cfg.USSPassphrase,
	}
	if cfg.AppImagePath != "" {
		image, err := os.ReadFile(cfg.AppImagePath)
		if err != nil {
			return fmt.Errorf("read app image: %w", err)
		}
		prov.AppImage = image
	}
	source, err := identity.Load(prov)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.NewCollector()
	}

	device, err := app.New(app.Options{
		Identity:            source,
		Indicator:           &app.LogIndicator{Logger: logger},
		Monitor:             app.NopMonitor{},
		Logger:              logger,
		Metrics:             collector,
		Limiter:             ratelimiter.New(cfg.ThrottlePerSecond, cfg.ThrottleBurst, config.DefaultThrottleIdleTTL),
		TransferIdleTimeout: cfg.TransferIdleTimeout,
		Now:                 time.Now,
	})
	if err != nil {
		return err
	}
	defer device.Close()

	opts := server.Options{Logger: logger}
	if collector != nil {
		opts.MetricsAddr = cfg.MetricsAddr
		opts.MetricsHandler = collector.Handler()
	}
	srv, err := server.New(cfg.Listen, device, opts)
	if err != nil {
		return err
	}

	logger.Info("totp-device starting", "version", version)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("totp-device stopped")
	return nil
}

func overrideString(fs *pflag.FlagSet, name string, dst *string, value string) {
	if fs.Changed(name) {
		*dst = value
	}
}
