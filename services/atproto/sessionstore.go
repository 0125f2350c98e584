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
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/comind/pkg/logging"
)

// SessionStore persists ATProto sessions across restarts in an
// embedded BadgerDB, keyed by account identifier. Persisting after
// create/refresh is an explicit caller-side effect (the Client calls
// Save), not a hidden callback.
type SessionStore struct {
	db     *badger.DB
	logger *logging.Logger
}

// sessionKey namespaces session entries inside the database.
func sessionKey(identifier string) []byte {
	return []byte("session/" + identifier)
}

// OpenSessionStore opens (creating if needed) the session database at
// path. Caller must Close.
func OpenSessionStore(path string, logger *logging.Logger) (*SessionStore, error) {
	if path == "" {
		return nil, errors.New("session store path is required")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create session store directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return &SessionStore{db: db, logger: logger}, nil
}

// OpenInMemorySessionStore opens a throwaway store for tests.
func OpenInMemorySessionStore(logger *logging.Logger) (*SessionStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory session store: %w", err)
	}
	return &SessionStore{db: db, logger: logger}, nil
}

// Load returns the persisted session for identifier, or nil when none
// has been saved.
func (s *SessionStore) Load(identifier string) (*Session, error) {
	var sess *Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(identifier))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded Session
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("decoding persisted session: %w", err)
			}
			sess = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Save persists the session for identifier, replacing any previous one.
func (s *SessionStore) Save(identifier string, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(identifier), data)
	})
	if err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	s.logger.Debug("session persisted", "identifier", identifier)
	return nil
}

// Close releases the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}
