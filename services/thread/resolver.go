// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package thread turns raw post-thread JSON into compact model context.
package thread

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/atproto"
)

// Redacted replaces the text of posts whose author is not on the watch
// list. Non-watched authors' content must never reach the model.
const Redacted = "[NOT AVAILABLE]"

// stripFields are removed recursively from thread JSON before
// serialization. They are transport noise that costs tokens without
// informing generation.
var stripFields = map[string]bool{
	"cid":         true,
	"rev":         true,
	"did":         true,
	"uri":         true,
	"langs":       true,
	"threadgate":  true,
	"labels":      true,
	"facets":      true,
	"avatar":      true,
	"viewer":      true,
	"indexedAt":   true,
	"tags":        true,
	"associated":  true,
	"image":       true,
	"aspectRatio": true,
	"alt":         true,
	"thumb":       true,
	"fullsize":    true,
}

// fetcher is the thread-fetching surface of the XRPC client.
type fetcher interface {
	GetPostThread(ctx context.Context, uri string, depth int) (map[string]any, error)
}

// Resolver fetches a post's thread and unpacks it into serialized text
// plus the references found along the way.
type Resolver struct {
	api    fetcher
	logger *logging.Logger
}

func NewResolver(api fetcher, logger *logging.Logger) *Resolver {
	return &Resolver{api: api, logger: logger}
}

// Resolve fetches the thread containing uri bounded by depth and
// unpacks it. A fetch failure at the requested depth is retried once at
// the server's default depth before the error is returned.
func (r *Resolver) Resolve(ctx context.Context, uri string, depth int, watched map[string]bool) (string, []atproto.Ref, error) {
	raw, err := r.api.GetPostThread(ctx, uri, depth)
	if err != nil {
		r.logger.Warn("thread fetch failed, retrying at default depth", "uri", uri, "depth", depth, "error", err)
		raw, err = r.api.GetPostThread(ctx, uri, 0)
		if err != nil {
			return "", nil, fmt.Errorf("fetching thread %s: %w", uri, err)
		}
	}
	return Unpack(raw, watched)
}

// Unpack turns a raw getPostThread response into compact key-ordered
// text and the (uri, cid) references the thread contains. References
// are collected before stripping, since the strip list removes both
// fields. Posts by authors outside watched are redacted.
func Unpack(response map[string]any, watched map[string]bool) (string, []atproto.Ref, error) {
	root, ok := response["thread"].(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("thread response has no thread object")
	}

	refs := collectRefs(root)
	redact(root, watched)
	stripped := strip(root)

	text, err := yaml.Marshal(stripped)
	if err != nil {
		return "", nil, fmt.Errorf("serializing thread: %w", err)
	}
	return string(text), refs, nil
}

// collectRefs gathers every object carrying both a uri and a cid,
// depth-first, deduplicated by uri.
func collectRefs(node any) []atproto.Ref {
	seen := map[string]bool{}
	var refs []atproto.Ref
	var walk func(any)
	walk = func(n any) {
		switch v := n.(type) {
		case map[string]any:
			uri, uriOK := v["uri"].(string)
			cid, cidOK := v["cid"].(string)
			if uriOK && cidOK && !seen[uri] {
				seen[uri] = true
				refs = append(refs, atproto.Ref{URI: uri, CID: cid})
			}
			for _, key := range sortedKeys(v) {
				walk(v[key])
			}
		case []any:
			for _, item := range v {
				walk(item)
			}
		}
	}
	walk(node)
	return refs
}

// redact replaces post text wherever the post's author is not watched.
// It runs before stripping because the author's DID is on the strip
// list.
func redact(node any, watched map[string]bool) {
	switch v := node.(type) {
	case map[string]any:
		author, _ := v["author"].(map[string]any)
		record, hasRecord := v["record"].(map[string]any)
		if author != nil && hasRecord {
			did, _ := author["did"].(string)
			if !watched[did] {
				record["text"] = Redacted
			}
		}
		for _, value := range v {
			redact(value, watched)
		}
	case []any:
		for _, item := range v {
			redact(item, watched)
		}
	}
}

// strip returns a copy of node with every strip-listed field removed,
// recursively.
func strip(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if stripFields[key] {
				continue
			}
			out[key] = strip(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = strip(item)
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WatchedSet builds the redaction set from identities.
func WatchedSet(ids []atproto.Identity) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id.DID] = true
	}
	return set
}
