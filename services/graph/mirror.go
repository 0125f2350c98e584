// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph mirrors repository records into a Neo4j property
// graph. Mirroring is optional and write-behind: repository records are
// the source of truth and the graph can always be rebuilt with a full
// sync.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/atproto"
	"github.com/AleutianAI/comind/services/engine"
)

// runner executes one cypher statement and returns its records. The
// indirection keeps Mirror testable without a database.
type runner interface {
	run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

type neo4jRunner struct {
	driver neo4j.DriverWithContext
}

func (r *neo4jRunner) run(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		out[i] = rec.AsMap()
	}
	return out, nil
}

// Mirror upserts records into the property graph.
type Mirror struct {
	runner runner
	driver neo4j.DriverWithContext
	logger *logging.Logger
}

// NewMirror connects to Neo4j and verifies connectivity. Caller must
// Close.
func NewMirror(ctx context.Context, uri, username, password string, logger *logging.Logger) (*Mirror, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating graph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("graph store unreachable at %s: %w", uri, err)
	}
	logger.Info("connected to graph store", "uri", uri)
	return &Mirror{runner: &neo4jRunner{driver: driver}, driver: driver, logger: logger}, nil
}

func (m *Mirror) Close(ctx context.Context) error {
	if m.driver == nil {
		return nil
	}
	return m.driver.Close(ctx)
}

// nodeLabels are the typed labels the mirror creates. Anything else
// sharing a URI with one of these is a duplicate placeholder.
var nodeLabels = []string{"Concept", "Thought", "Emotion", "Sphere", "Post"}

func labelForKind(kind engine.Kind) (string, error) {
	switch kind {
	case engine.KindConcept:
		return "Concept", nil
	case engine.KindThought:
		return "Thought", nil
	case engine.KindEmotion:
		return "Emotion", nil
	case engine.KindSphere:
		return "Sphere", nil
	}
	return "", fmt.Errorf("no node label for record kind %q", kind)
}

// SyncRecord upserts one record. Nodes are matched by URI and their
// mutable properties refreshed, so re-syncing is idempotent. Link
// records become edges merged on the link's own URI, since two links
// may connect the same pair under different semantics.
func (m *Mirror) SyncRecord(ctx context.Context, uri, cid string, value map[string]any, kind engine.Kind) error {
	if kind == engine.KindLink {
		return m.syncLink(ctx, uri, cid, value)
	}

	label, err := labelForKind(kind)
	if err != nil {
		return err
	}
	parsed, err := atproto.ParseURI(uri)
	if err != nil {
		return fmt.Errorf("mirroring %s: %w", uri, err)
	}

	query := fmt.Sprintf(`
		MERGE (repo:Repo {did: $did})
		ON CREATE SET repo.createdAt = datetime()
		ON MATCH SET repo.updatedAt = datetime()
		MERGE (n:%s {uri: $uri})
		SET n.cid = $cid,
		    n.text = $text,
		    n.thoughtType = $thoughtType,
		    n.emotionType = $emotionType,
		    n.context = $context,
		    n.title = $title,
		    n.description = $description,
		    n.createdAt = $createdAt,
		    n.updatedAt = datetime()
		MERGE (repo)-[r:OWNS]->(n)
		ON CREATE SET r.createdAt = $createdAt, r.updatedAt = datetime()
		ON MATCH SET r.updatedAt = datetime()`, label)

	_, err = m.runner.run(ctx, query, map[string]any{
		"did":         parsed.Authority,
		"uri":         uri,
		"cid":         cid,
		"text":        value["text"],
		"thoughtType": value["thoughtType"],
		"emotionType": value["emotionType"],
		"context":     value["context"],
		"title":       value["title"],
		"description": value["description"],
		"createdAt":   value["createdAt"],
	})
	if err != nil {
		return fmt.Errorf("mirroring %s node %s: %w", label, uri, err)
	}
	m.logger.Debug("mirrored record", "label", label, "uri", uri)
	return nil
}

func (m *Mirror) syncLink(ctx context.Context, uri, cid string, value map[string]any) error {
	sourceURI := refURI(value["source"])
	targetURI := refURI(value["target"])
	if sourceURI == "" || targetURI == "" {
		return fmt.Errorf("link %s has no source or target", uri)
	}

	query := `
		MERGE (source {uri: $sourceUri})
		ON CREATE SET source.createdAt = datetime()
		MERGE (target {uri: $targetUri})
		ON CREATE SET target.createdAt = datetime()
		MERGE (source)-[r:LINK {uri: $uri}]->(target)
		SET r.cid = $cid,
		    r.relationship = $relationship,
		    r.strength = $strength,
		    r.note = $note,
		    r.createdAt = $createdAt,
		    r.updatedAt = datetime()`

	_, err := m.runner.run(ctx, query, map[string]any{
		"uri":          uri,
		"cid":          cid,
		"sourceUri":    sourceURI,
		"targetUri":    targetURI,
		"relationship": value["relationship"],
		"strength":     value["strength"],
		"note":         value["note"],
		"createdAt":    value["createdAt"],
	})
	if err != nil {
		return fmt.Errorf("mirroring link %s: %w", uri, err)
	}
	m.logger.Debug("mirrored link", "uri", uri, "source", sourceURI, "target", targetURI)
	return nil
}

// SyncPost upserts the node for an observed external post so links
// have a typed target.
func (m *Mirror) SyncPost(ctx context.Context, uri, cid, text string) error {
	query := `
		MERGE (p:Post {uri: $uri})
		SET p.cid = $cid,
		    p.text = $text,
		    p.updatedAt = datetime()`
	if _, err := m.runner.run(ctx, query, map[string]any{"uri": uri, "cid": cid, "text": text}); err != nil {
		return fmt.Errorf("mirroring post %s: %w", uri, err)
	}
	return nil
}

// ReconcileDuplicateNodes merges unlabeled placeholder nodes into the
// typed node sharing their URI. Placeholders appear when a link is
// mirrored before its endpoint's type is known. Ownership edges are
// transferred, then the placeholder is deleted. Returns the number of
// placeholders removed.
func (m *Mirror) ReconcileDuplicateNodes(ctx context.Context) (int, error) {
	query := `
		MATCH (dup)
		WHERE dup.uri IS NOT NULL
		  AND NOT dup:Concept AND NOT dup:Thought AND NOT dup:Emotion
		  AND NOT dup:Sphere AND NOT dup:Post AND NOT dup:Repo
		MATCH (typed {uri: dup.uri})
		WHERE typed <> dup
		  AND (typed:Concept OR typed:Thought OR typed:Emotion OR typed:Sphere OR typed:Post)
		OPTIONAL MATCH (repo:Repo)-[owns:OWNS]->(dup)
		FOREACH (_ IN CASE WHEN repo IS NULL THEN [] ELSE [1] END |
			MERGE (repo)-[:OWNS]->(typed))
		WITH DISTINCT dup
		DETACH DELETE dup
		RETURN count(dup) AS removed`

	records, err := m.runner.run(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("reconciling duplicate nodes: %w", err)
	}
	removed := 0
	if len(records) > 0 {
		if n, ok := records[0]["removed"].(int64); ok {
			removed = int(n)
		}
	}
	if removed > 0 {
		m.logger.Info("reconciled duplicate graph nodes", "removed", removed)
	}
	return removed, nil
}

// refURI accepts either a strong-ref object or a bare URI string.
func refURI(v any) string {
	switch ref := v.(type) {
	case map[string]any:
		uri, _ := ref["uri"].(string)
		return uri
	case string:
		return ref
	}
	return ""
}
