// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consumer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamURL(t *testing.T) {
	url := StreamURL("wss://jetstream.example/subscribe",
		[]string{"app.bsky.feed.post"},
		[]string{"did:plc:alice", "did:plc:bob"})

	assert.Equal(t,
		"wss://jetstream.example/subscribe?wantedCollections=app.bsky.feed.post&wantedDids=did%3Aplc%3Aalice&wantedDids=did%3Aplc%3Abob",
		url)
}

func TestStreamURL_NoFilters(t *testing.T) {
	assert.Equal(t, "wss://jetstream.example/subscribe",
		StreamURL("wss://jetstream.example/subscribe", nil, nil))
}

func TestCommitEvent_PostCreate(t *testing.T) {
	raw := `{
		"did": "did:plc:alice",
		"kind": "commit",
		"commit": {
			"operation": "create",
			"collection": "app.bsky.feed.post",
			"rkey": "3kabc",
			"cid": "cid1",
			"record": {"text": "hello"}
		}
	}`
	var event CommitEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))

	assert.True(t, event.IsPostCreate())
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3kabc", event.PostURI())
	assert.Empty(t, event.ReplyRootURI())
}

func TestCommitEvent_ReplyRoot(t *testing.T) {
	raw := `{
		"did": "did:plc:alice",
		"kind": "commit",
		"commit": {
			"operation": "create",
			"collection": "app.bsky.feed.post",
			"rkey": "3kdef",
			"record": {
				"text": "a reply",
				"reply": {
					"root": {"uri": "at://did:plc:bob/app.bsky.feed.post/1", "cid": "rootcid"},
					"parent": {"uri": "at://did:plc:carol/app.bsky.feed.post/2", "cid": "parentcid"}
				}
			}
		}
	}`
	var event CommitEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	assert.Equal(t, "at://did:plc:bob/app.bsky.feed.post/1", event.ReplyRootURI())
}

func TestCommitEvent_NonCreateIgnored(t *testing.T) {
	var event CommitEvent
	require.NoError(t, json.Unmarshal([]byte(
		`{"did":"did:plc:alice","kind":"commit","commit":{"operation":"delete","collection":"app.bsky.feed.post","rkey":"1"}}`),
		&event))
	assert.False(t, event.IsPostCreate())

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"identity"}`), &event))
	assert.False(t, event.IsPostCreate())
}
