// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/comind/services/atproto"
	"github.com/AleutianAI/comind/services/engine"
)

// syncedCollections are mirrored by graph sync, in creation-dependency
// order: link records reference nodes, so nodes go first.
var syncedCollections = []string{
	atproto.CollectionConcept,
	atproto.CollectionThought,
	atproto.CollectionEmotion,
	atproto.CollectionSphereCore,
	atproto.CollectionLink,
}

func runGraphSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger("graph-sync")
	defer logger.Close()

	client, sessions, err := login(ctx, logger)
	if err != nil {
		return err
	}
	defer sessions.Close()
	store := atproto.NewStore(client, logger)

	mirror, err := connectMirror(ctx, logger)
	if err != nil {
		return err
	}
	defer mirror.Close(ctx)

	total := 0
	for _, collection := range syncedCollections {
		kind, err := engine.KindForCollection(collection)
		if err != nil {
			return err
		}
		records, err := store.ListAll(ctx, collection)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := mirror.SyncRecord(ctx, rec.URI, rec.CID, rec.Value, kind); err != nil {
				return fmt.Errorf("syncing %s: %w", rec.URI, err)
			}
		}
		logger.Info("collection mirrored", "collection", collection, "records", len(records))
		total += len(records)
	}

	removed, err := mirror.ReconcileDuplicateNodes(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("mirrored %d records, reconciled %d duplicate nodes\n", total, removed)
	return nil
}

func runGraphCleanup(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger("graph-cleanup")
	defer logger.Close()

	mirror, err := connectMirror(ctx, logger)
	if err != nil {
		return err
	}
	defer mirror.Close(ctx)

	removed, err := mirror.ReconcileDuplicateNodes(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d duplicate nodes\n", removed)
	return nil
}
