// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package command

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("phira-mp/command")

// Registry holds every registered command and its aliases.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	// aliases maps alias name to primary command name.
	aliases map[string]string
	logger  *slog.Logger
}

// NewRegistry creates an empty command registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		logger:   logger,
	}
}

// Register adds a command. A duplicate primary name fails; a colliding
// alias overwrites the previous binding with a warning.
func (r *Registry) Register(cmd *Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Name]; exists {
		return ErrAlreadyRegistered(cmd.Name)
	}
	r.commands[cmd.Name] = cmd

	for _, alias := range cmd.Aliases {
		if previous, exists := r.aliases[alias]; exists {
			r.logger.Warn("command alias already registered, overwriting",
				"alias", alias,
				"previous", previous,
				"command", cmd.Name,
			)
		}
		r.aliases[alias] = cmd.Name
	}

	r.logger.Info("command registered",
		"command", cmd.Name,
		"plugin", cmd.Plugin,
		"aliases", len(cmd.Aliases),
	)
	return nil
}

// Unregister removes a command by name or alias, along with the
// command's aliases.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unregisterLocked(name)
}

func (r *Registry) unregisterLocked(name string) error {
	actual := name
	if target, ok := r.aliases[name]; ok {
		actual = target
	}

	cmd, ok := r.commands[actual]
	if !ok {
		return ErrNotFound(name)
	}
	delete(r.commands, actual)
	for _, alias := range cmd.Aliases {
		delete(r.aliases, alias)
	}

	r.logger.Info("command unregistered", "command", actual, "plugin", cmd.Plugin)
	return nil
}

// UnregisterAllFromPlugin removes every command the plugin registered,
// atomically under one lock.
func (r *Registry) UnregisterAllFromPlugin(plugin string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name, cmd := range r.commands {
		if cmd.Plugin == plugin {
			names = append(names, name)
		}
	}
	for _, name := range names {
		// Cannot fail: the name came from the map we hold locked.
		_ = r.unregisterLocked(name)
	}

	r.logger.Info("all plugin commands unregistered",
		"plugin", plugin,
		"count", len(names),
	)
}

// Execute dispatches a command line: the text up to the first whitespace
// run is the command name (alias-resolved), the remainder is the raw
// argument string.
func (r *Registry) Execute(ctx context.Context, commandLine string) (string, error) {
	typed, rawArgs := splitCommandLine(commandLine)

	ctx, span := tracer.Start(ctx, "command.execute",
		trace.WithAttributes(attribute.String("command.name", typed)),
	)
	defer span.End()

	r.mu.RLock()
	actual := typed
	aliased := false
	if target, ok := r.aliases[typed]; ok {
		actual = target
		aliased = true
	}
	cmd := r.commands[actual]
	r.mu.RUnlock()

	if aliased {
		RecordAliasResolution(typed)
	}

	if cmd == nil {
		RecordCommandExecution(typed, "", StatusNotFound)
		err := ErrNotFound(typed)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	start := time.Now()
	out, err := cmd.Execute(ctx, rawArgs)
	RecordCommandDuration(cmd.Name, cmd.Plugin, time.Since(start))

	if err != nil {
		RecordCommandExecution(cmd.Name, cmd.Plugin, StatusError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	RecordCommandExecution(cmd.Name, cmd.Plugin, StatusSuccess)
	return out, nil
}

// Get returns a command by name or alias, or nil if absent.
func (r *Registry) Get(name string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actual := name
	if target, ok := r.aliases[name]; ok {
		actual = target
	}
	return r.commands[actual]
}

// All returns every registered command, sorted by name.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FromPlugin returns the commands registered by plugin, sorted by name.
func (r *Registry) FromPlugin(plugin string) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Command
	for _, cmd := range r.commands {
		if cmd.Plugin == plugin {
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search returns commands whose name, description, or aliases contain
// the query substring, sorted by name.
func (r *Registry) Search(query string) []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Command
	for _, cmd := range r.commands {
		if matchesQuery(cmd, query) {
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func matchesQuery(cmd *Command, query string) bool {
	if strings.Contains(cmd.Name, query) || strings.Contains(cmd.Description, query) {
		return true
	}
	for _, alias := range cmd.Aliases {
		if strings.Contains(alias, query) {
			return true
		}
	}
	return false
}

// Stats summarizes the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make(map[string]struct{})
	for _, cmd := range r.commands {
		plugins[cmd.Plugin] = struct{}{}
	}
	return Stats{
		Commands: len(r.commands),
		Aliases:  len(r.aliases),
		Plugins:  len(plugins),
	}
}

// Stats describes registry occupancy.
type Stats struct {
	Commands int
	Aliases  int
	Plugins  int
}

// splitCommandLine separates the command name from the raw argument
// string at the first whitespace run.
func splitCommandLine(line string) (name, rawArgs string) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i], strings.TrimSpace(line[i:])
	}
	return line, ""
}
