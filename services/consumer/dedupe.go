// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consumer

// DedupeCeiling bounds the processed-URI memory. When exceeded, the
// oldest tenth is pruned.
const DedupeCeiling = 10000

// DedupeCache is a bounded insertion-ordered set of processed event
// URIs. It is touched only by the single consumer loop and does not
// lock. Reprocessing after eviction is acceptable: downstream writes
// are idempotent for canonical-key records.
type DedupeCache struct {
	max   int
	seen  map[string]bool
	order []string
}

func NewDedupeCache(max int) *DedupeCache {
	if max <= 0 {
		max = DedupeCeiling
	}
	return &DedupeCache{max: max, seen: make(map[string]bool)}
}

// Observe reports whether uri was already processed and records it if
// not. Exceeding the ceiling evicts the oldest ~10% of entries.
func (c *DedupeCache) Observe(uri string) bool {
	if c.seen[uri] {
		return true
	}
	c.seen[uri] = true
	c.order = append(c.order, uri)

	if len(c.order) > c.max {
		evict := c.max / 10
		if evict < 1 {
			evict = 1
		}
		for _, old := range c.order[:evict] {
			delete(c.seen, old)
		}
		c.order = c.order[evict:]
	}
	return false
}

// Len reports the number of remembered URIs.
func (c *DedupeCache) Len() int { return len(c.order) }
