// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atproto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityCache_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.json")
	cache, err := LoadIdentityCache(path, logging.New(logging.Config{Quiet: true}))
	require.NoError(t, err)
	assert.Zero(t, cache.Len())
}

func TestIdentityCache_CorruptFileIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadIdentityCache(path, logging.New(logging.Config{Quiet: true}))
	assert.Error(t, err)
}

func TestIdentityCache_FlushRoundTrip(t *testing.T) {
	logger := logging.New(logging.Config{Quiet: true})
	path := filepath.Join(t.TempDir(), "identities.json")

	cache, err := LoadIdentityCache(path, logger)
	require.NoError(t, err)
	cache.Put(Identity{DID: "did:plc:abc", Handle: "alice.example.com", DisplayName: "Alice"})
	require.NoError(t, cache.Flush())

	reloaded, err := LoadIdentityCache(path, logger)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())

	id, ok := reloaded.Get("did:plc:abc")
	require.True(t, ok)
	assert.Equal(t, "alice.example.com", id.Handle)
	assert.Equal(t, "Alice", id.DisplayName)
}

func TestIdentityCache_GetByHandle(t *testing.T) {
	cache, err := LoadIdentityCache(
		filepath.Join(t.TempDir(), "identities.json"),
		logging.New(logging.Config{Quiet: true}))
	require.NoError(t, err)
	cache.Put(Identity{DID: "did:plc:abc", Handle: "alice.example.com"})

	id, ok := cache.GetByHandle("alice.example.com")
	require.True(t, ok)
	assert.Equal(t, "did:plc:abc", id.DID)

	_, ok = cache.GetByHandle("nobody.example.com")
	assert.False(t, ok)
}
