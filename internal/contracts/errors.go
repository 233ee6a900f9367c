// Package contracts classifies device errors for logs and metrics.
package contracts

import (
	"errors"
	"strings"
)

const (
	ErrorCategoryProtocol  = "protocol"
	ErrorCategoryCrypto    = "crypto"
	ErrorCategoryStorage   = "storage"
	ErrorCategoryGenerator = "generator"
)

type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func normalizeErrorCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case ErrorCategoryCrypto:
		return ErrorCategoryCrypto
	case ErrorCategoryStorage:
		return ErrorCategoryStorage
	case ErrorCategoryGenerator:
		return ErrorCategoryGenerator
	default:
		return ErrorCategoryProtocol
	}
}

func WrapCategorizedError(category string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return &CategorizedError{
			Category: normalizeErrorCategory(existing.Category),
			Err:      existing.Err,
		}
	}
	return &CategorizedError{
		Category: normalizeErrorCategory(category),
		Err:      err,
	}
}

func ErrorCategory(err error) string {
	var classified *CategorizedError
	if errors.As(err, &classified) {
		return normalizeErrorCategory(classified.Category)
	}
	return ErrorCategoryProtocol
}
