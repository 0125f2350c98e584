// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package thread

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/atproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleThread() map[string]any {
	return map[string]any{
		"thread": map[string]any{
			"post": map[string]any{
				"uri": "at://did:plc:alice/app.bsky.feed.post/1",
				"cid": "cid1",
				"author": map[string]any{
					"did":    "did:plc:alice",
					"handle": "alice.example.com",
					"avatar": "https://cdn.example.com/a.jpg",
				},
				"record": map[string]any{
					"text":   "graph databases are neat",
					"langs":  []any{"en"},
					"facets": []any{map[string]any{"index": 1}},
				},
				"indexedAt": "2025-05-01T00:00:00Z",
			},
			"replies": []any{
				map[string]any{
					"post": map[string]any{
						"uri": "at://did:plc:bob/app.bsky.feed.post/2",
						"cid": "cid2",
						"author": map[string]any{
							"did":    "did:plc:bob",
							"handle": "bob.example.com",
						},
						"record": map[string]any{
							"text": "bob's private reply",
						},
					},
				},
			},
		},
	}
}

func TestUnpack_StripsNoisyFields(t *testing.T) {
	text, _, err := Unpack(sampleThread(), map[string]bool{"did:plc:alice": true, "did:plc:bob": true})
	require.NoError(t, err)

	for _, field := range []string{"cid1", "avatar", "indexedAt", "facets", "langs", "at://"} {
		assert.NotContains(t, text, field)
	}
	assert.Contains(t, text, "graph databases are neat")
	assert.Contains(t, text, "alice.example.com")
}

func TestUnpack_RedactsNonWatchedAuthors(t *testing.T) {
	text, _, err := Unpack(sampleThread(), map[string]bool{"did:plc:alice": true})
	require.NoError(t, err)

	assert.Contains(t, text, "graph databases are neat")
	assert.NotContains(t, text, "bob's private reply")
	assert.Contains(t, text, Redacted)
}

func TestUnpack_EmptyWatchSetRedactsEverything(t *testing.T) {
	text, _, err := Unpack(sampleThread(), nil)
	require.NoError(t, err)

	assert.NotContains(t, text, "graph databases are neat")
	assert.Equal(t, 2, strings.Count(text, Redacted))
}

func TestUnpack_CollectsReferencesBeforeStripping(t *testing.T) {
	_, refs, err := Unpack(sampleThread(), nil)
	require.NoError(t, err)

	assert.ElementsMatch(t, []atproto.Ref{
		{URI: "at://did:plc:alice/app.bsky.feed.post/1", CID: "cid1"},
		{URI: "at://did:plc:bob/app.bsky.feed.post/2", CID: "cid2"},
	}, refs)
}

func TestUnpack_MissingThreadIsError(t *testing.T) {
	_, _, err := Unpack(map[string]any{"notThread": 1}, nil)
	assert.Error(t, err)
}

func TestUnpack_OutputIsKeyOrdered(t *testing.T) {
	first, _, err := Unpack(sampleThread(), nil)
	require.NoError(t, err)
	second, _, err := Unpack(sampleThread(), nil)
	require.NoError(t, err)
	assert.Equal(t, first, second, "serialization must be deterministic")
}

type fakeFetcher struct {
	depths []int
	fail   map[int]error
}

func (f *fakeFetcher) GetPostThread(_ context.Context, _ string, depth int) (map[string]any, error) {
	f.depths = append(f.depths, depth)
	if err := f.fail[depth]; err != nil {
		return nil, err
	}
	return sampleThread(), nil
}

func TestResolver_RetriesAtDefaultDepth(t *testing.T) {
	api := &fakeFetcher{fail: map[int]error{6: errors.New("too deep")}}
	r := NewResolver(api, logging.New(logging.Config{Quiet: true}))

	text, _, err := r.Resolve(context.Background(), "at://did:plc:alice/app.bsky.feed.post/1", 6, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, text)
	assert.Equal(t, []int{6, 0}, api.depths, "failed fetch retries once at server default depth")
}

func TestResolver_SecondFailureIsError(t *testing.T) {
	boom := errors.New("unavailable")
	api := &fakeFetcher{fail: map[int]error{6: boom, 0: boom}}
	r := NewResolver(api, logging.New(logging.Config{Quiet: true}))

	_, _, err := r.Resolve(context.Background(), "at://x/app.bsky.feed.post/1", 6, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
