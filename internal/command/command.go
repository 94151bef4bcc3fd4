// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package command implements the named command registry that plugins and
// the server register handlers into.
package command

import (
	"context"
	"strings"
)

// Handler executes a command with its parsed arguments and returns output
// for the caller.
type Handler func(ctx context.Context, name string, args []string) (string, error)

// ArgumentParser turns the raw argument string into an argument list.
type ArgumentParser func(raw string) ([]string, error)

// Command is a registered command.
type Command struct {
	// Name is the primary dispatch name, unique across the registry.
	Name string
	// Description is shown in help output.
	Description string
	// Handler runs the command.
	Handler Handler
	// ArgumentParser overrides the default whitespace split when set.
	ArgumentParser ArgumentParser
	// Permissions required to run the command. Empty means unrestricted.
	Permissions []string
	// Aliases are alternative dispatch names. Alias collisions overwrite.
	Aliases []string
	// Plugin is the registering owner, or "server" for built-ins.
	Plugin string
}

// ParseArguments applies the command's parser, defaulting to a
// whitespace split.
func (c *Command) ParseArguments(raw string) ([]string, error) {
	if c.ArgumentParser != nil {
		return c.ArgumentParser(raw)
	}
	return strings.Fields(raw), nil
}

// Execute parses the raw arguments and invokes the handler.
func (c *Command) Execute(ctx context.Context, raw string) (string, error) {
	args, err := c.ParseArguments(raw)
	if err != nil {
		return "", ErrParse(c.Name, err)
	}
	return c.Handler(ctx, c.Name, args)
}

// Matches reports whether name is the command's name or one of its
// aliases.
func (c *Command) Matches(name string) bool {
	if c.Name == name {
		return true
	}
	for _, alias := range c.Aliases {
		if alias == name {
			return true
		}
	}
	return false
}

// QuotedParser is an argument parser that honors double quotes and
// backslash escapes, for commands whose arguments contain spaces.
func QuotedParser(raw string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuotes := false
	escaped := false

	for _, ch := range raw {
		switch {
		case escaped:
			current.WriteRune(ch)
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			inQuotes = !inQuotes
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args, nil
}
