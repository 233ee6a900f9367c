package app

import (
	"errors"
	"fmt"
	"strings"

	"totp-token/go-device/internal/contracts"
	"totp-token/go-device/internal/frame"
	"totp-token/go-device/internal/transfer"
)

const componentName = "device"

func frameCorrelationID(hdr frame.Header) string {
	return fmt.Sprintf("frame:%d", hdr.ID)
}

func (d *Device) logInfo(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", componentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", strings.TrimSpace(correlationID),
	}
	d.logger.Info(message, append(base, attrs...)...)
}

func (d *Device) logWarn(operation, correlationID, message string, attrs ...any) {
	base := []any{
		"component", componentName,
		"operation", strings.TrimSpace(operation),
		"correlation_id", strings.TrimSpace(correlationID),
	}
	d.logger.Warn(message, append(base, attrs...)...)
}

func (d *Device) recordError(category string, err error, operation, correlationID string, attrs ...any) {
	if err == nil {
		return
	}
	d.metrics.RecordError(category)
	base := []any{
		"component", componentName,
		"operation", strings.TrimSpace(operation),
		"category", strings.TrimSpace(category),
		"correlation_id", strings.TrimSpace(correlationID),
		"error", err.Error(),
	}
	d.logger.Error("device error", append(base, attrs...)...)
}

// observe logs and counts the outcome of one command.
func (d *Device) observe(cmd command, hdr frame.Header, err error) {
	status := "ok"
	if err != nil {
		status = "bad"
	}
	d.metrics.RecordCommand(cmd.name, status)
	operation := strings.ToLower(cmd.name)
	if err == nil {
		d.logger.Debug("command", "component", componentName, "operation", operation, "correlation_id", frameCorrelationID(hdr), "status", status)
		return
	}
	if errors.Is(err, ErrThrottled) || errors.Is(err, ErrRequestLength) || errors.Is(err, ErrEmptyStore) {
		d.logWarn(operation, frameCorrelationID(hdr), "command rejected", "status", status, "error", err.Error())
		return
	}
	category := contracts.ErrorCategory(err)
	if errors.Is(err, transfer.ErrGeneratorFault) {
		category = contracts.ErrorCategoryGenerator
		d.faulted.Store(true)
	}
	d.recordError(category, err, operation, frameCorrelationID(hdr), "status", status)
}
