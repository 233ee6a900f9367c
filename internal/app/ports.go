package app

import (
	"log/slog"

	"totp-token/go-device/internal/identity"
	"totp-token/go-device/pkg/models"
)

// IdentitySource supplies the device identity once at boot.
type IdentitySource interface {
	DeviceIdentity() (identity.Secret, error)
}

type Status int

const (
	StatusBooting Status = iota
	StatusReady
	StatusTransfer
	StatusFault
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusTransfer:
		return "transfer"
	case StatusFault:
		return "fault"
	default:
		return "booting"
	}
}

// StatusIndicator is the device LED.
type StatusIndicator interface {
	SetStatus(Status)
}

// FaultMonitor guards memory the application must never execute.
type FaultMonitor interface {
	Arm() error
}

// Calculator turns a decrypted record and a time step into an OTP code.
type Calculator interface {
	Calculate(rec models.Record, timeStep uint64) (models.Token, error)
}

// LogIndicator reports status changes on a logger.
type LogIndicator struct {
	Logger *slog.Logger
	last   Status
	set    bool
}

func (l *LogIndicator) SetStatus(s Status) {
	if l == nil || l.Logger == nil {
		return
	}
	if l.set && l.last == s {
		return
	}
	l.last, l.set = s, true
	l.Logger.Debug("indicator", "component", componentName, "status", s.String())
}

// NopMonitor is used where no execution monitor exists.
type NopMonitor struct{}

func (NopMonitor) Arm() error { return nil }
