// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package command_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FireflyF09/phira-mp/internal/command"
	"github.com/FireflyF09/phira-mp/pkg/errutil"
)

func echoCommand(name, plugin string, aliases ...string) *command.Command {
	return &command.Command{
		Name:        name,
		Description: "echoes its arguments",
		Handler: func(_ context.Context, name string, args []string) (string, error) {
			return fmt.Sprintf("%s:%s", name, strings.Join(args, ",")), nil
		},
		Aliases: aliases,
		Plugin:  plugin,
	}
}

func TestRegisterAndExecute(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("hello", "chat")))

	out, err := r.Execute(context.Background(), "hello world again")
	require.NoError(t, err)
	assert.Equal(t, "hello:world,again", out)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("hello", "chat")))

	err := r.Register(echoCommand("hello", "stats"))
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, command.CodeCommand))

	// Original registration is untouched.
	assert.Equal(t, "chat", r.Get("hello").Plugin)
}

func TestAliasResolution(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("broadcast", "chat", "bc", "shout")))

	out, err := r.Execute(context.Background(), "bc hi")
	require.NoError(t, err)
	assert.Equal(t, "broadcast:hi", out)

	assert.NotNil(t, r.Get("shout"))
	assert.NotNil(t, r.Get("broadcast"))
}

func TestAliasCollisionOverwrites(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("broadcast", "chat", "b")))
	require.NoError(t, r.Register(echoCommand("ban", "moderation", "b")))

	// Later registration wins the alias.
	assert.Equal(t, "ban", r.Get("b").Name)
}

func TestExecuteUnknownCommand(t *testing.T) {
	r := command.NewRegistry(nil)

	_, err := r.Execute(context.Background(), "nosuch arg")
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, command.CodeCommand))
	// The error names what the caller typed.
	assert.Contains(t, err.Error(), "nosuch")
}

func TestExecuteSplitsOnFirstWhitespaceRun(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("say", "chat")))

	out, err := r.Execute(context.Background(), "  say   hello   there  ")
	require.NoError(t, err)
	assert.Equal(t, "say:hello,there", out)

	// No arguments at all.
	out, err = r.Execute(context.Background(), "say")
	require.NoError(t, err)
	assert.Equal(t, "say:", out)
}

func TestCustomArgumentParser(t *testing.T) {
	r := command.NewRegistry(nil)
	cmd := echoCommand("tell", "chat")
	cmd.ArgumentParser = command.QuotedParser
	require.NoError(t, r.Register(cmd))

	out, err := r.Execute(context.Background(), `tell alice "hello there"`)
	require.NoError(t, err)
	assert.Equal(t, "tell:alice,hello there", out)
}

func TestQuotedParser(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "plain", raw: "a b c", want: []string{"a", "b", "c"}},
		{name: "quoted", raw: `a "b c" d`, want: []string{"a", "b c", "d"}},
		{name: "escape", raw: `a\ b c`, want: []string{"a b", "c"}},
		{name: "empty", raw: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := command.QuotedParser(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnregisterByAlias(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("broadcast", "chat", "bc")))

	require.NoError(t, r.Unregister("bc"))

	assert.Nil(t, r.Get("broadcast"))
	assert.Nil(t, r.Get("bc"))

	err := r.Unregister("broadcast")
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, command.CodeCommand))
}

func TestUnregisterAllFromPlugin(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("say", "chat", "s")))
	require.NoError(t, r.Register(echoCommand("emote", "chat")))
	require.NoError(t, r.Register(echoCommand("stats", "metrics")))

	r.UnregisterAllFromPlugin("chat")

	assert.Nil(t, r.Get("say"))
	assert.Nil(t, r.Get("s"))
	assert.Nil(t, r.Get("emote"))
	assert.NotNil(t, r.Get("stats"))
}

func TestFromPluginAndSearch(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("say", "chat")))
	require.NoError(t, r.Register(echoCommand("shout", "chat")))
	require.NoError(t, r.Register(echoCommand("stats", "metrics")))

	fromChat := r.FromPlugin("chat")
	require.Len(t, fromChat, 2)
	assert.Equal(t, "say", fromChat[0].Name)
	assert.Equal(t, "shout", fromChat[1].Name)

	found := r.Search("sh")
	require.Len(t, found, 1)
	assert.Equal(t, "shout", found[0].Name)
}

func TestStats(t *testing.T) {
	r := command.NewRegistry(nil)
	require.NoError(t, r.Register(echoCommand("say", "chat", "s")))
	require.NoError(t, r.Register(echoCommand("stats", "metrics")))

	stats := r.Stats()
	assert.Equal(t, 2, stats.Commands)
	assert.Equal(t, 1, stats.Aliases)
	assert.Equal(t, 2, stats.Plugins)
}
