// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FireflyF09/phira-mp/internal/plugin"
	"github.com/FireflyF09/phira-mp/pkg/errutil"
)

const validManifest = `
name = "chat"
version = "1.2.0"
author = "Phira MP Contributors"
description = "In-room chat"
abi_version = "1.0.0"
dependencies = ["storage"]
permissions = ["read_users", "send_messages"]
category = "social"
tags = ["chat", "messaging"]
`

func TestParseManifest(t *testing.T) {
	m, err := plugin.ParseManifest([]byte(validManifest))
	require.NoError(t, err)

	assert.Equal(t, "chat", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, "Phira MP Contributors", m.Author)
	assert.Equal(t, "In-room chat", m.Description)
	assert.Equal(t, "1.0.0", m.ABIVersion)
	assert.True(t, m.DependsOn("storage"))
	assert.False(t, m.DependsOn("other"))
	assert.True(t, m.RequiresPermission("read_users"))
	assert.Equal(t, "social", m.Category)
	assert.True(t, m.HasTag("chat"))
	assert.False(t, m.HasTag("admin"))
}

func TestParseManifestValidation(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{
			name:     "empty name",
			manifest: "name = \"\"\nversion = \"1.0.0\"\nauthor = \"a\"\nabi_version = \"1.0.0\"\n",
		},
		{
			name:     "missing version",
			manifest: "name = \"p\"\nauthor = \"a\"\nabi_version = \"1.0.0\"\n",
		},
		{
			name:     "missing author",
			manifest: "name = \"p\"\nversion = \"1.0.0\"\nabi_version = \"1.0.0\"\n",
		},
		{
			name:     "missing abi version",
			manifest: "name = \"p\"\nversion = \"1.0.0\"\nauthor = \"a\"\n",
		},
		{
			name:     "abi version without dot",
			manifest: "name = \"p\"\nversion = \"1.0.0\"\nauthor = \"a\"\nabi_version = \"1\"\n",
		},
		{
			name:     "not toml",
			manifest: "{\"name\": \"p\"}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.manifest))
			require.Error(t, err)
			assert.True(t, errutil.HasCode(err, plugin.CodeInvalidManifest))
		})
	}
}

func TestCheckABICompatibility(t *testing.T) {
	tests := []struct {
		name    string
		plugin  string
		host    string
		wantErr bool
	}{
		{name: "same version", plugin: "1.0.0", host: "1.0.0"},
		{name: "same major", plugin: "1.2.3", host: "1.0.0"},
		{name: "major mismatch", plugin: "2.0.0", host: "1.0.0", wantErr: true},
		{name: "older major", plugin: "0.9.0", host: "1.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &plugin.Metadata{
				Name:       "p",
				Version:    "1.0.0",
				Author:     "a",
				ABIVersion: tt.plugin,
			}
			err := m.CheckABICompatibility(tt.host)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errutil.HasCode(err, plugin.CodeUnsupportedABIVersion))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
