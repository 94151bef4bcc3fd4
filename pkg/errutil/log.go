// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package errutil provides helpers for logging and inspecting structured errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error with structured context if it's an oops error.
// For oops errors, it extracts and logs the message, code, and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
	} else {
		logger.Error(msg, "error", err)
	}
}

// HasCode reports whether err is an oops error carrying the given code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	got, ok := oopsErr.Code().(string)
	return ok && got == code
}
