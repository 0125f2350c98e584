// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"

	"github.com/AleutianAI/comind/services/atproto"
)

// state tracks progress through one annotation pass. Failed is
// reachable from any state; on failure the error is logged with the
// state it occurred in and returned, leaving the consumer loop free to
// advance.
type state string

const (
	stateContextBuilt     state = "context_built"
	stateGenerated        state = "generated"
	statePersistedPrimary state = "persisted_primary"
	statePersistedLinks   state = "persisted_links"
	stateDone             state = "done"
)

// Annotate runs the full pipeline for one event: generate annotations
// for every collection against the already-built thread context, then
// persist each annotation and its link back to target.
func (e *Engine) Annotate(ctx context.Context, fields map[string]string, target *atproto.Ref) error {
	for _, collection := range AnnotationCollections {
		if err := e.annotate(ctx, collection, fields, target); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) annotate(ctx context.Context, collection string, fields map[string]string, target *atproto.Ref) error {
	current := stateContextBuilt
	fail := func(err error) error {
		e.logger.Error("annotation failed", "collection", collection, "state", string(current), "error", err)
		return err
	}

	items, err := e.Generate(ctx, collection, fields)
	if err != nil {
		return fail(err)
	}
	current = stateGenerated

	if err := e.Upload(ctx, collection, items, target); err != nil {
		return fail(err)
	}
	current = stateDone
	e.logger.Debug("annotation pass complete", "collection", collection, "state", string(current), "items", len(items))
	return nil
}

// Upload persists generated items and their links. Per item: decode and
// validate, derive the persistence key, create the record (Concepts
// resolve to an existing record when the key is taken), then create
// exactly one Link to target when the item carries a connection. A
// connection with no target is logged and skipped, never invented.
func (e *Engine) Upload(ctx context.Context, collection string, items []map[string]any, target *atproto.Ref) error {
	kind, err := KindForCollection(collection)
	if err != nil {
		return err
	}
	current := stateGenerated

	for _, item := range items {
		ann, err := DecodeAnnotation(kind, item)
		if err != nil {
			return fmt.Errorf("in state %s: %w", current, err)
		}

		createdAt := e.now()
		value := ann.RecordValue(collection, createdAt)
		ref, err := e.store.Create(ctx, collection, value, ann.Key(e.newKey))
		if err != nil {
			return fmt.Errorf("persisting %s: %w", kind, err)
		}
		current = statePersistedPrimary
		e.syncMirror(ctx, ref, value, kind)

		if ann.Connection == nil {
			continue
		}
		if target == nil {
			e.logger.Warn("connection generated but event has no target, skipping link",
				"collection", collection, "source", ref.URI)
			continue
		}
		linkValue := ann.LinkValue(ref, *target, createdAt)
		linkRef, err := e.store.Create(ctx, atproto.CollectionLink, linkValue, "")
		if err != nil {
			return fmt.Errorf("persisting link for %s: %w", ref.URI, err)
		}
		current = statePersistedLinks
		e.syncMirror(ctx, linkRef, linkValue, KindLink)
	}
	return nil
}

// syncMirror mirrors one persisted record. Mirror failures degrade to
// warnings: the repository write already succeeded and the graph can be
// backfilled later with a full sync.
func (e *Engine) syncMirror(ctx context.Context, ref atproto.Ref, value map[string]any, kind Kind) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.SyncRecord(ctx, ref.URI, ref.CID, value, kind); err != nil {
		e.logger.Warn("graph mirror sync failed", "uri", ref.URI, "error", err)
	}
}
