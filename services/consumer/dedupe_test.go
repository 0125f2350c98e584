// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consumer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeCache_Observe(t *testing.T) {
	cache := NewDedupeCache(100)

	assert.False(t, cache.Observe("at://a/app.bsky.feed.post/1"))
	assert.True(t, cache.Observe("at://a/app.bsky.feed.post/1"))
	assert.False(t, cache.Observe("at://a/app.bsky.feed.post/2"))
	assert.Equal(t, 2, cache.Len())
}

func TestDedupeCache_EvictsOldestTenth(t *testing.T) {
	cache := NewDedupeCache(100)
	for i := 0; i <= 100; i++ {
		cache.Observe(fmt.Sprintf("uri-%d", i))
	}

	// Crossing the ceiling drops the oldest 10 entries.
	assert.Equal(t, 91, cache.Len())
	assert.False(t, cache.Observe("uri-0"), "evicted entries may be reprocessed")
	assert.True(t, cache.Observe("uri-100"))
}

func TestDedupeCache_TinyCapacity(t *testing.T) {
	cache := NewDedupeCache(5)
	for i := 0; i < 10; i++ {
		cache.Observe(fmt.Sprintf("uri-%d", i))
	}
	assert.LessOrEqual(t, cache.Len(), 5)
}
