// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package atproto

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that a record does not exist. Callers treat it as
// an absence value, not a failure: it drives get-or-create logic.
var ErrNotFound = errors.New("record not found")

// NamespaceViolationError is returned when a destructive operation
// targets a collection outside the allowed namespace. It is raised
// before any network call is made and is never caught internally: it
// signals a programming error, not runtime variance.
type NamespaceViolationError struct {
	Collection string
}

func (e *NamespaceViolationError) Error() string {
	return fmt.Sprintf("collection %q is outside the %s namespace", e.Collection, AllowedNamespace)
}

// apiError is the XRPC error envelope returned by the repository host.
type apiError struct {
	Name    string `json:"error"`
	Message string `json:"message"`
	status  int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("xrpc %d %s: %s", e.status, e.Name, e.Message)
}
