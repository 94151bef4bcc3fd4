// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package plugin implements the plugin lifecycle: manifests, per-plugin
// configuration, and the manager that loads, supervises, and unloads
// plugin modules.
package plugin

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
)

// Metadata is a plugin's parsed manifest. It is immutable after load.
type Metadata struct {
	Name           string   `koanf:"name"`
	Version        string   `koanf:"version"`
	Author         string   `koanf:"author"`
	Description    string   `koanf:"description"`
	EntryPoint     string   `koanf:"entry_point"`
	Dependencies   []string `koanf:"dependencies"`
	Permissions    []string `koanf:"permissions"`
	ABIVersion     string   `koanf:"abi_version"`
	Category       string   `koanf:"category"`
	Tags           []string `koanf:"tags"`
	Website        string   `koanf:"website"`
	License        string   `koanf:"license"`
	MinHostVersion string   `koanf:"min_host_version"`
}

// LoadManifest reads and validates a TOML manifest file.
func LoadManifest(path string) (*Metadata, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, oops.Code(CodeInvalidManifest).
			With("path", path).
			Wrapf(err, "reading manifest")
	}
	return unmarshalManifest(k)
}

// ParseManifest parses and validates manifest TOML from memory.
func ParseManifest(data []byte) (*Metadata, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), toml.Parser()); err != nil {
		return nil, oops.Code(CodeInvalidManifest).
			Wrapf(err, "parsing manifest")
	}
	return unmarshalManifest(k)
}

func unmarshalManifest(k *koanf.Koanf) (*Metadata, error) {
	var m Metadata
	if err := k.Unmarshal("", &m); err != nil {
		return nil, oops.Code(CodeInvalidManifest).
			Wrapf(err, "decoding manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate enforces the required manifest fields.
func (m *Metadata) Validate() error {
	switch {
	case m.Name == "":
		return oops.Code(CodeInvalidManifest).Errorf("plugin name cannot be empty")
	case m.Version == "":
		return oops.Code(CodeInvalidManifest).Errorf("plugin version cannot be empty")
	case m.Author == "":
		return oops.Code(CodeInvalidManifest).Errorf("plugin author cannot be empty")
	case m.ABIVersion == "":
		return oops.Code(CodeInvalidManifest).Errorf("ABI version cannot be empty")
	case !strings.Contains(m.ABIVersion, "."):
		return oops.Code(CodeInvalidManifest).
			With("abi_version", m.ABIVersion).
			Errorf("ABI version must be in semver format (e.g. 1.0.0)")
	}
	return nil
}

// CheckABICompatibility verifies the declared ABI against the host's:
// both must parse as semver and share the same major version.
func (m *Metadata) CheckABICompatibility(hostABI string) error {
	declared, err := semver.NewVersion(m.ABIVersion)
	if err != nil {
		return oops.Code(CodeInvalidManifest).
			With("abi_version", m.ABIVersion).
			Wrapf(err, "parsing plugin ABI version")
	}
	host, err := semver.NewVersion(hostABI)
	if err != nil {
		return oops.Code(CodeUnsupportedABIVersion).
			With("host_abi", hostABI).
			Wrapf(err, "parsing host ABI version")
	}
	if declared.Major() != host.Major() {
		return oops.Code(CodeUnsupportedABIVersion).
			With("plugin", m.Name).
			With("plugin_abi", m.ABIVersion).
			With("host_abi", hostABI).
			Errorf("plugin ABI %s is incompatible with host ABI %s", m.ABIVersion, hostABI)
	}
	return nil
}

// HasTag reports whether the manifest declares the tag.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RequiresPermission reports whether the manifest requests the
// permission.
func (m *Metadata) RequiresPermission(permission string) bool {
	for _, p := range m.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// DependsOn reports whether the manifest declares a dependency on the
// named plugin.
func (m *Metadata) DependsOn(name string) bool {
	for _, d := range m.Dependencies {
		if d == name {
			return true
		}
	}
	return false
}
