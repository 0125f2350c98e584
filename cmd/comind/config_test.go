// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, "https://bsky.social", cfg.PDSHost)
	assert.Equal(t, "activated_accounts.txt", cfg.WatchList)
}

func TestLoadConfig_ExplicitMissingFileFails(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"), true)
	assert.Error(t, err)
}

func TestLoadConfig_FileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"identifier: file.example.com\npersona: from the file\nmodel:\n  name: file-model\n"), 0644))
	t.Setenv("COMIND_BSKY_USERNAME", "env.example.com")

	cfg, err := loadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "env.example.com", cfg.Identifier, "environment overrides the file")
	assert.Equal(t, "from the file", cfg.Persona)
	assert.Equal(t, "file-model", cfg.Model.Name)
}

func TestValidateConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Identifier = "void.example.com"
	cfg.Password = "app-password"
	require.NoError(t, validateConfig(cfg))

	cfg.Password = ""
	assert.Error(t, validateConfig(cfg), "credentials are required")

	cfg.Password = "app-password"
	cfg.Graph.Enabled = true
	assert.Error(t, validateConfig(cfg), "enabled mirror needs a graph password")
}
