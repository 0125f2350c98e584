// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atproto

import (
	"fmt"
	"strings"
)

// Ref identifies a stored record: its at:// URI plus the content id of
// the version that was written.
type Ref struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// URI is a parsed at:// record URI. The authority is the repository
// DID, the record key is the final path segment.
type URI struct {
	Authority  string
	Collection string
	RKey       string
}

// ParseURI parses "at://<authority>/<collection>/<rkey>".
func ParseURI(s string) (URI, error) {
	rest, ok := strings.CutPrefix(s, "at://")
	if !ok {
		return URI{}, fmt.Errorf("invalid at-uri %q: missing at:// scheme", s)
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return URI{}, fmt.Errorf("invalid at-uri %q: want at://authority/collection/rkey", s)
	}
	return URI{Authority: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

func (u URI) String() string {
	return "at://" + u.Authority + "/" + u.Collection + "/" + u.RKey
}

// MakeURI builds a record URI from its parts.
func MakeURI(did, collection, rkey string) string {
	return URI{Authority: did, Collection: collection, RKey: rkey}.String()
}
