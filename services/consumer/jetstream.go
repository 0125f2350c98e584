// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consumer

import (
	"net/url"

	"github.com/AleutianAI/comind/services/atproto"
)

// CommitEvent is one jetstream message. Only commit events for watched
// collections are delivered when the subscription carries filters.
type CommitEvent struct {
	DID    string `json:"did"`
	Kind   string `json:"kind"`
	Commit struct {
		Operation  string         `json:"operation"`
		Collection string         `json:"collection"`
		RKey       string         `json:"rkey"`
		CID        string         `json:"cid"`
		Record     map[string]any `json:"record"`
	} `json:"commit"`
}

// IsPostCreate reports whether the event is the creation of a post.
func (e *CommitEvent) IsPostCreate() bool {
	return e.Kind == "commit" &&
		e.Commit.Operation == "create" &&
		e.Commit.Collection == atproto.CollectionPost
}

// PostURI reconstructs the created post's AT URI.
func (e *CommitEvent) PostURI() string {
	return atproto.MakeURI(e.DID, e.Commit.Collection, e.Commit.RKey)
}

// ReplyRootURI returns the thread root when the post is a reply, or ""
// for a top-level post. Replies are annotated in the context of their
// whole thread.
func (e *CommitEvent) ReplyRootURI() string {
	reply, _ := e.Commit.Record["reply"].(map[string]any)
	root, _ := reply["root"].(map[string]any)
	uri, _ := root["uri"].(string)
	return uri
}

// StreamURL builds the jetstream subscription URL from the wanted
// collections and author DIDs.
func StreamURL(host string, collections, dids []string) string {
	params := url.Values{}
	for _, c := range collections {
		params.Add("wantedCollections", c)
	}
	for _, did := range dids {
		params.Add("wantedDids", did)
	}
	if len(params) == 0 {
		return host
	}
	return host + "?" + params.Encode()
}
