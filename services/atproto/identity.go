// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/AleutianAI/comind/pkg/logging"
)

// Identity is a resolved account: stable DID plus the mutable directory
// fields observed at resolution time.
type Identity struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// IdentityCache memoizes handle resolution. Entries are loaded once at
// startup from a flat JSON file and never evicted mid-process; flushing
// back to disk is caller-controlled, not automatic.
//
// The cache is touched only by the single consumer loop, so it does
// not lock.
type IdentityCache struct {
	path    string
	entries map[string]Identity
	logger  *logging.Logger
}

// LoadIdentityCache reads the cache file. A missing file yields an
// empty cache; a corrupt one is an error.
func LoadIdentityCache(path string, logger *logging.Logger) (*IdentityCache, error) {
	cache := &IdentityCache{
		path:    path,
		entries: make(map[string]Identity),
		logger:  logger,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("identity cache file not found, starting empty", "path", path)
			return cache, nil
		}
		return nil, fmt.Errorf("reading identity cache %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cache.entries); err != nil {
		return nil, fmt.Errorf("parsing identity cache %s: %w", path, err)
	}
	logger.Info("identity cache loaded", "path", path, "entries", len(cache.entries))
	return cache, nil
}

// Get looks an identity up by DID.
func (c *IdentityCache) Get(did string) (Identity, bool) {
	id, ok := c.entries[did]
	return id, ok
}

// GetByHandle scans for an identity by handle. The cache is small
// (watched identities only), so a scan is fine.
func (c *IdentityCache) GetByHandle(handle string) (Identity, bool) {
	for _, id := range c.entries {
		if id.Handle == handle {
			return id, true
		}
	}
	return Identity{}, false
}

// Put stores an identity under its DID.
func (c *IdentityCache) Put(id Identity) {
	c.entries[id.DID] = id
}

// Len reports the number of cached identities.
func (c *IdentityCache) Len() int { return len(c.entries) }

// Flush writes the cache back to its file.
func (c *IdentityCache) Flush() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding identity cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("writing identity cache %s: %w", c.path, err)
	}
	c.logger.Debug("identity cache flushed", "path", c.path, "entries", len(c.entries))
	return nil
}
