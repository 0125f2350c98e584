// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consumer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/atproto"
)

// directory is the handle-resolution surface of the XRPC client.
type directory interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
	GetProfile(ctx context.Context, actor string) (atproto.Identity, error)
}

// WatchList loads the identities whose content may be shown unredacted
// to the model. The file holds one DID or handle per line; handles are
// resolved through the identity cache, falling back to the directory.
type WatchList struct {
	path   string
	cache  *atproto.IdentityCache
	dir    directory
	logger *logging.Logger
}

func NewWatchList(path string, cache *atproto.IdentityCache, dir directory, logger *logging.Logger) *WatchList {
	return &WatchList{path: path, cache: cache, dir: dir, logger: logger}
}

// Load reads the watch-list file and returns the DIDs in file order.
// A missing file is created empty. Blank lines and #-comments are
// skipped; a handle that fails to resolve is skipped with a log, not
// fatal.
func (w *WatchList) Load(ctx context.Context) ([]string, error) {
	file, err := os.Open(w.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("opening watch list %s: %w", w.path, err)
		}
		w.logger.Warn("watch list not found, creating empty file", "path", w.path)
		if err := os.WriteFile(w.path, nil, 0644); err != nil {
			return nil, fmt.Errorf("creating watch list %s: %w", w.path, err)
		}
		return nil, nil
	}
	defer file.Close()

	var dids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "did:") {
			dids = append(dids, line)
			continue
		}
		did, err := w.resolve(ctx, line)
		if err != nil {
			w.logger.Error("skipping unresolvable handle", "handle", line, "error", err)
			continue
		}
		dids = append(dids, did)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading watch list %s: %w", w.path, err)
	}
	w.logger.Info("watch list loaded", "path", w.path, "identities", len(dids))
	return dids, nil
}

// resolve turns a handle into a DID, memoizing through the identity
// cache.
func (w *WatchList) resolve(ctx context.Context, handle string) (string, error) {
	if id, ok := w.cache.GetByHandle(handle); ok {
		return id.DID, nil
	}
	did, err := w.dir.ResolveHandle(ctx, handle)
	if err != nil {
		return "", err
	}
	identity, err := w.dir.GetProfile(ctx, did)
	if err != nil {
		// The DID is enough to watch; the profile is cache enrichment.
		w.logger.Warn("resolved handle but profile fetch failed", "handle", handle, "error", err)
		identity = atproto.Identity{DID: did, Handle: handle}
	}
	w.cache.Put(identity)
	w.logger.Info("resolved handle", "handle", handle, "did", did)
	return did, nil
}
