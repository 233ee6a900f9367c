package client

import (
	"context"
	"testing"
	"time"

	"totp-token/go-device/internal/app"
	"totp-token/go-device/internal/identity"
	"totp-token/go-device/internal/server"
)

func TestDoctorReportsReadyDevice(t *testing.T) {
	var secret identity.Secret
	secret[0] = 1
	dev, err := app.New(app.Options{Identity: identity.NewStatic(secret)})
	if err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	defer dev.Close()
	srv, err := server.New("/ip4/127.0.0.1/tcp/0", dev, server.Options{})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	bound, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	doctorCtx, doctorCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer doctorCancel()
	report := Doctor(doctorCtx, bound.String())
	if !report.Ready {
		t.Fatalf("expected ready report, got %+v", report.Checks)
	}
	if len(report.Checks) != 5 || report.Records != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestDoctorFailsFast(t *testing.T) {
	report := Doctor(context.Background(), "localhost:7717")
	if report.Ready || len(report.Checks) != 1 || report.Checks[0].Name != "address_valid" {
		t.Fatalf("expected address failure, got %+v", report)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	report = Doctor(ctx, "/ip4/127.0.0.1/tcp/1")
	if report.Ready || report.Checks[len(report.Checks)-1].Name != "device_reachable" {
		t.Fatalf("expected reachability failure, got %+v", report)
	}
}
