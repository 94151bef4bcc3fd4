// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package command

import (
	"github.com/samber/oops"
)

// CodeCommand is the oops error code for command registry failures.
const CodeCommand = "COMMAND"

// ErrAlreadyRegistered creates an error for a duplicate command name.
func ErrAlreadyRegistered(name string) error {
	return oops.Code(CodeCommand).
		With("command", name).
		Errorf("command %q already registered", name)
}

// ErrNotFound creates an error for an unknown command. The name is the
// one the caller typed, before alias resolution.
func ErrNotFound(name string) error {
	return oops.Code(CodeCommand).
		With("command", name).
		Errorf("command %q not found", name)
}

// ErrParse creates an error for argument parsing failures.
func ErrParse(name string, cause error) error {
	return oops.Code(CodeCommand).
		With("command", name).
		Wrap(cause)
}
