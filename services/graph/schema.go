// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"fmt"
	"strings"
)

// EnsureSchema creates the uniqueness constraints the mirror relies on.
// Safe to run at every startup.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT repo_did IF NOT EXISTS FOR (r:Repo) REQUIRE r.did IS UNIQUE",
	}
	for _, label := range nodeLabels {
		statements = append(statements, fmt.Sprintf(
			"CREATE CONSTRAINT %s_uri IF NOT EXISTS FOR (n:%s) REQUIRE n.uri IS UNIQUE",
			strings.ToLower(label), label))
	}
	for _, stmt := range statements {
		if _, err := m.runner.run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensuring graph schema: %w", err)
		}
	}
	m.logger.Debug("graph schema ensured", "constraints", len(statements))
	return nil
}
