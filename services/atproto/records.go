// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atproto

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/comind/pkg/logging"
)

// AllowedNamespace is the collection prefix destructive operations are
// restricted to. Deleting anything outside it is refused before any
// network call.
const AllowedNamespace = "me.comind."

// CreatePacing is the fixed delay after every record create. It is a
// cooperative throttle against API rate limits, not a real rate
// limiter: the consumer processes one event at a time, so pacing the
// writes paces the loop.
const CreatePacing = 1 * time.Second

// Collections written by this system.
const (
	CollectionConcept    = "me.comind.concept"
	CollectionThought    = "me.comind.thought"
	CollectionEmotion    = "me.comind.emotion"
	CollectionSphereCore = "me.comind.sphere.core"
	CollectionLink       = "me.comind.relationship.link"

	// CollectionPost is the external collection the consumer watches.
	CollectionPost = "app.bsky.feed.post"
)

// canonicalKeyCollections derive their record key from content, so an
// identical record must resolve to the existing one instead of being
// written twice.
var canonicalKeyCollections = map[string]bool{
	CollectionConcept:    true,
	CollectionSphereCore: true,
}

// Record is a stored repository record.
type Record struct {
	URI   string         `json:"uri"`
	CID   string         `json:"cid"`
	Value map[string]any `json:"value"`
}

// Ref returns the record's reference pair.
func (r Record) Ref() Ref {
	return Ref{URI: r.URI, CID: r.CID}
}

// repoAPI is the raw repository surface Store builds on. *Client
// implements it; tests substitute fakes.
type repoAPI interface {
	CreateRecord(ctx context.Context, collection, rkey string, record map[string]any) (Ref, error)
	GetRecord(ctx context.Context, collection, rkey string) (*Record, error)
	ListRecords(ctx context.Context, collection, cursor string, limit int) ([]Record, string, error)
	DeleteRecord(ctx context.Context, collection, rkey string) error
}

// Store provides guarded, paced CRUD over the repository's
// collections.
type Store struct {
	api    repoAPI
	logger *logging.Logger
	pacing time.Duration
	sleep  func(time.Duration)
}

// NewStore wraps an XRPC client in a Store with default pacing.
func NewStore(api repoAPI, logger *logging.Logger) *Store {
	return &Store{
		api:    api,
		logger: logger,
		pacing: CreatePacing,
		sleep:  time.Sleep,
	}
}

// Get fetches a record by collection and key. Absence is a value: a
// missing record returns (nil, nil).
func (s *Store) Get(ctx context.Context, collection, rkey string) (*Record, error) {
	rec, err := s.api.GetRecord(ctx, collection, rkey)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Create writes a record and returns its reference. An empty rkey lets
// the backend assign one. For collections whose key is canonically
// derived from content, an existing record under the same key is
// returned as-is, making repeated creation of identical content
// idempotent. Every actual create is followed by the pacing delay.
func (s *Store) Create(ctx context.Context, collection string, value map[string]any, rkey string) (Ref, error) {
	if rkey == "" && collection == CollectionSphereCore {
		title, _ := value["title"].(string)
		rkey = NormalizeKey(title)
	}

	if rkey != "" && canonicalKeyCollections[collection] {
		existing, err := s.Get(ctx, collection, rkey)
		if err != nil {
			return Ref{}, err
		}
		if existing != nil {
			s.logger.Debug("record already exists, reusing", "collection", collection, "rkey", rkey)
			return existing.Ref(), nil
		}
	}

	ref, err := s.api.CreateRecord(ctx, collection, rkey, value)
	if err != nil {
		return Ref{}, err
	}
	s.logger.Debug("record created", "collection", collection, "uri", ref.URI)
	s.sleep(s.pacing)
	return ref, nil
}

// ListAll fetches every record in a collection, following pagination
// cursors to exhaustion.
func (s *Store) ListAll(ctx context.Context, collection string) ([]Record, error) {
	var all []Record
	cursor := ""
	for {
		page, next, err := s.api.ListRecords(ctx, collection, cursor, 100)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" || len(page) == 0 {
			return all, nil
		}
		cursor = next
	}
}

// Delete removes one record. Collections outside the allowed namespace
// are refused without any network call.
func (s *Store) Delete(ctx context.Context, collection, rkey string) error {
	if err := guardNamespace(collection); err != nil {
		return err
	}
	if err := s.api.DeleteRecord(ctx, collection, rkey); err != nil {
		return err
	}
	s.logger.Info("record deleted", "collection", collection, "rkey", rkey)
	return nil
}

// Clear deletes every record in a collection, with the same namespace
// guard as Delete.
func (s *Store) Clear(ctx context.Context, collection string) error {
	if err := guardNamespace(collection); err != nil {
		return err
	}
	records, err := s.ListAll(ctx, collection)
	if err != nil {
		return err
	}
	s.logger.Info("clearing collection", "collection", collection, "count", len(records))
	for _, rec := range records {
		uri, err := ParseURI(rec.URI)
		if err != nil {
			return fmt.Errorf("clearing %s: %w", collection, err)
		}
		if err := s.Delete(ctx, collection, uri.RKey); err != nil {
			return err
		}
	}
	return nil
}

func guardNamespace(collection string) error {
	if !strings.HasPrefix(collection, AllowedNamespace) {
		return &NamespaceViolationError{Collection: collection}
	}
	return nil
}

// NormalizeKey derives a stable record key from free text: lowercase,
// whitespace collapsed, spaces to hyphens. Concepts and spheres use it
// so identical content always lands on the same key.
func NormalizeKey(text string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	return strings.Join(fields, "-")
}
