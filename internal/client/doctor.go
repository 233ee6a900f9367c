package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"totp-token/go-device/internal/app"

	ma "github.com/multiformats/go-multiaddr"
)

type DoctorCheck struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

type DoctorReport struct {
	Ready     bool          `json:"ready"`
	Checks    []DoctorCheck `json:"checks"`
	Records   int           `json:"records"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Doctor checks a device address and reports whether it runs this app.
func Doctor(ctx context.Context, addr string) DoctorReport {
	report := DoctorReport{
		Ready:     true,
		Checks:    make([]DoctorCheck, 0, 5),
		CheckedAt: time.Now().UTC(),
	}
	appendCheck := func(name string, pass bool, reason string) {
		report.Checks = append(report.Checks, DoctorCheck{Name: name, Pass: pass, Reason: reason})
		if !pass {
			report.Ready = false
		}
	}

	if _, err := ma.NewMultiaddr(strings.TrimSpace(addr)); err != nil {
		appendCheck("address_valid", false, err.Error())
		return report
	}
	appendCheck("address_valid", true, "")

	c, err := Dial(ctx, strings.TrimSpace(addr))
	if err != nil {
		appendCheck("device_reachable", false, err.Error())
		return report
	}
	defer c.Close()
	appendCheck("device_reachable", true, "")

	nv, err := c.GetNameVersion()
	if err != nil {
		appendCheck("app_running", false, err.Error())
		return report
	}
	isApp := nv.Name0 == app.AppName0 && nv.Name1 == app.AppName1
	appendCheck("app_running", isApp, failReason(!isApp, fmt.Sprintf("device runs %q", nv.String())))
	versionOK := nv.Version == app.AppVersion
	appendCheck("app_version", versionOK, failReason(!versionOK, fmt.Sprintf("version %d, want %d", nv.Version, app.AppVersion)))
	if !isApp {
		return report
	}

	list, err := c.List()
	if err != nil {
		appendCheck("records_listable", false, err.Error())
		return report
	}
	report.Records = len(list)
	appendCheck("records_listable", true, "")
	return report
}

func failReason(failed bool, reason string) string {
	if failed {
		return reason
	}
	return ""
}
