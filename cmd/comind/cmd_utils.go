// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/atproto"
	"github.com/AleutianAI/comind/services/graph"
)

func newLogger(service string) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(config.LogLevel),
		LogDir:  config.LogDir,
		Service: service,
	})
}

// login validates credentials, opens the persistent session store, and
// establishes an authenticated session. The caller closes the returned
// session store.
func login(ctx context.Context, logger *logging.Logger) (*atproto.Client, *atproto.SessionStore, error) {
	if err := validateConfig(config); err != nil {
		return nil, nil, err
	}

	sessions, err := atproto.OpenSessionStore(config.SessionDir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store: %w", err)
	}

	client := atproto.NewClient(config.PDSHost, config.Identifier, config.Password, sessions, logger)
	if err := client.Login(ctx); err != nil {
		sessions.Close()
		return nil, nil, err
	}
	return client, sessions, nil
}

// connectMirror opens the Neo4j mirror and ensures its constraints
// exist. The caller closes the returned mirror.
func connectMirror(ctx context.Context, logger *logging.Logger) (*graph.Mirror, error) {
	mirror, err := graph.NewMirror(ctx, config.Graph.URI, config.Graph.Username, config.Graph.Password, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to graph at %s: %w", config.Graph.URI, err)
	}
	if err := mirror.EnsureSchema(ctx); err != nil {
		mirror.Close(ctx)
		return nil, fmt.Errorf("ensuring graph schema: %w", err)
	}
	return mirror, nil
}
