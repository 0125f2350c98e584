// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atproto

import (
	"testing"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore_LoadMissingIsNil(t *testing.T) {
	store, err := OpenInMemorySessionStore(logging.New(logging.Config{Quiet: true}))
	require.NoError(t, err)
	defer store.Close()

	sess, err := store.Load("nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSessionStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := OpenInMemorySessionStore(logging.New(logging.Config{Quiet: true}))
	require.NoError(t, err)
	defer store.Close()

	saved := &Session{
		DID:        "did:plc:abc",
		Handle:     "alice.example.com",
		AccessJWT:  "access-token",
		RefreshJWT: "refresh-token",
	}
	require.NoError(t, store.Save("alice@example.com", saved))

	loaded, err := store.Load("alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved, loaded)
}

func TestSessionStore_SaveReplaces(t *testing.T) {
	store, err := OpenInMemorySessionStore(logging.New(logging.Config{Quiet: true}))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("alice@example.com", &Session{AccessJWT: "old"}))
	require.NoError(t, store.Save("alice@example.com", &Session{AccessJWT: "new"}))

	loaded, err := store.Load("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new", loaded.AccessJWT)
}
