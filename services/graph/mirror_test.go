// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"testing"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type issued struct {
	query  string
	params map[string]any
}

type fakeRunner struct {
	queries []issued
	results [][]map[string]any
}

func (f *fakeRunner) run(_ context.Context, query string, params map[string]any) ([]map[string]any, error) {
	f.queries = append(f.queries, issued{query: query, params: params})
	if len(f.results) > 0 {
		out := f.results[0]
		f.results = f.results[1:]
		return out, nil
	}
	return nil, nil
}

func newTestMirror(fake *fakeRunner) *Mirror {
	return &Mirror{runner: fake, logger: logging.New(logging.Config{Quiet: true})}
}

func TestSyncRecord_ConceptMergesByURI(t *testing.T) {
	fake := &fakeRunner{}
	m := newTestMirror(fake)

	value := map[string]any{
		"$type": "me.comind.concept", "text": "graph databases",
		"createdAt": "2025-05-01T00:00:00Z",
	}
	err := m.SyncRecord(context.Background(),
		"at://did:example:me/me.comind.concept/graph-databases", "cid1", value, engine.KindConcept)
	require.NoError(t, err)

	require.Len(t, fake.queries, 1)
	q := fake.queries[0]
	assert.Contains(t, q.query, "MERGE (n:Concept {uri: $uri})")
	assert.Contains(t, q.query, "MERGE (repo)-[r:OWNS]->(n)")
	assert.Equal(t, "did:example:me", q.params["did"])
	assert.Equal(t, "graph databases", q.params["text"])
}

func TestSyncRecord_LinkMergesOnLinkURI(t *testing.T) {
	fake := &fakeRunner{}
	m := newTestMirror(fake)

	value := map[string]any{
		"source":       map[string]any{"uri": "at://did:example:me/me.comind.concept/graph-databases", "cid": "c1"},
		"target":       map[string]any{"uri": "at://did:plc:alice/app.bsky.feed.post/1", "cid": "c2"},
		"relationship": "RELATES_TO",
		"strength":     0.8,
	}
	err := m.SyncRecord(context.Background(),
		"at://did:example:me/me.comind.relationship.link/abc", "cid3", value, engine.KindLink)
	require.NoError(t, err)

	require.Len(t, fake.queries, 1)
	q := fake.queries[0]
	assert.Contains(t, q.query, "MERGE (source)-[r:LINK {uri: $uri}]->(target)",
		"edge identity is the link record's own uri, not the endpoint pair")
	assert.Equal(t, "at://did:example:me/me.comind.relationship.link/abc", q.params["uri"])
	assert.Equal(t, "RELATES_TO", q.params["relationship"])
}

func TestSyncRecord_LinkWithoutEndpointsIsError(t *testing.T) {
	m := newTestMirror(&fakeRunner{})

	err := m.SyncRecord(context.Background(), "at://x/me.comind.relationship.link/1", "c",
		map[string]any{"relationship": "RELATES_TO"}, engine.KindLink)
	assert.Error(t, err)
}

func TestReconcileDuplicateNodes(t *testing.T) {
	fake := &fakeRunner{results: [][]map[string]any{
		{{"removed": int64(2)}},
	}}
	m := newTestMirror(fake)

	removed, err := m.ReconcileDuplicateNodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	require.Len(t, fake.queries, 1)
	q := fake.queries[0].query
	assert.Contains(t, q, "NOT dup:Concept")
	assert.Contains(t, q, "MERGE (repo)-[:OWNS]->(typed)")
	assert.Contains(t, q, "DETACH DELETE dup")
}

func TestEnsureSchema_CoversEveryLabel(t *testing.T) {
	fake := &fakeRunner{}
	m := newTestMirror(fake)

	require.NoError(t, m.EnsureSchema(context.Background()))
	assert.Len(t, fake.queries, len(nodeLabels)+1)
	assert.Contains(t, fake.queries[0].query, "Repo")
}
