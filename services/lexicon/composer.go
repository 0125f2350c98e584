// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lexicon resolves modular record type definitions into complete
// generation schemas.
//
// A lexicon document describes the shape of one record collection. Its
// "generated" def is the part a language model is asked to produce.
// Definitions may reference other lexicons by NSID; the composer
// substitutes those references depth-first so the final schema is
// self-contained. Intra-document fragment references ("#name") are
// deliberately left in place.
//
// Default lexicons ship embedded in the binary; a directory override is
// available for local experimentation.
package lexicon

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/AleutianAI/comind/pkg/logging"
)

//go:embed lexicons
var embeddedLexicons embed.FS

// Schema is a generic JSON schema document.
type Schema = map[string]any

// SchemaError reports a broken or unresolvable type definition. It is
// fatal: lexicons are static configuration, so a SchemaError means the
// deployment is wrong, not that the stream delivered something odd.
type SchemaError struct {
	Type string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("lexicon %s: %v", e.Type, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// patternRe matches the inline pattern constraint a lexicon may carry in
// its description, e.g. (PATTERN OF 'text': ^[a-z0-9 ]+$).
var patternRe = regexp.MustCompile(`\(PATTERN OF '(.*?)': (.*?)\)`)

// Composer loads and resolves lexicon documents.
//
// Resolved external definitions are cached for the life of the process:
// lexicons are static configuration, not runtime data.
type Composer struct {
	fsys   fs.FS
	logger *logging.Logger
	cache  map[string]Schema
}

// NewComposer returns a Composer reading from the embedded lexicon set.
// If dir is non-empty it is used instead, with the same layout
// (lexicons resolved at <dir>/<nsid with dots as slashes>.json).
func NewComposer(logger *logging.Logger, dir string) *Composer {
	var fsys fs.FS = embeddedLexicons
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	return &Composer{
		fsys:   fsys,
		logger: logger,
		cache:  make(map[string]Schema),
	}
}

// newComposerFS is the test seam for supplying synthetic lexicon trees.
func newComposerFS(logger *logging.Logger, fsys fs.FS) *Composer {
	return &Composer{fsys: fsys, logger: logger, cache: make(map[string]Schema)}
}

// Resolve loads the generated record schema for the given NSID. When
// fetchRefs is true every non-fragment {"ref": X} is substituted with
// X's own resolved schema, depth-first. Fragment references ("#name")
// are intra-document pointers and stay unexpanded.
//
// A missing lexicon file, a reference that cannot be resolved, or a
// reference cycle all return a *SchemaError.
func (c *Composer) Resolve(nsid string, fetchRefs bool) (Schema, error) {
	schema, err := c.resolve(nsid, fetchRefs, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return schema, nil
}

func (c *Composer) resolve(nsid string, fetchRefs bool, inProgress map[string]bool) (Schema, error) {
	if inProgress[nsid] {
		return nil, &SchemaError{Type: nsid, Err: fmt.Errorf("reference cycle detected")}
	}
	if cached, ok := c.cache[nsid]; ok && fetchRefs {
		return deepCopySchema(cached), nil
	}

	raw, err := c.load(nsid)
	if err != nil {
		return nil, err
	}

	record, err := generatedRecord(nsid, raw)
	if err != nil {
		return nil, err
	}

	c.injectPattern(nsid, raw, record)

	if fetchRefs {
		inProgress[nsid] = true
		expanded, err := c.expandRefs(record, inProgress)
		if err != nil {
			delete(inProgress, nsid)
			return nil, err
		}
		delete(inProgress, nsid)
		record = expanded.(Schema)
		c.cache[nsid] = deepCopySchema(record)
	}

	return record, nil
}

// load reads and parses one lexicon document.
func (c *Composer) load(nsid string) (map[string]any, error) {
	path := "lexicons/" + strings.ReplaceAll(nsid, ".", "/") + ".json"
	data, err := fs.ReadFile(c.fsys, path)
	if err != nil {
		return nil, &SchemaError{Type: nsid, Err: fmt.Errorf("reading %s: %w", path, err)}
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &SchemaError{Type: nsid, Err: fmt.Errorf("parsing %s: %w", path, err)}
	}
	return doc, nil
}

// generatedRecord digs out defs.generated.record, the model-facing part
// of the lexicon.
func generatedRecord(nsid string, doc map[string]any) (Schema, error) {
	defs, ok := doc["defs"].(map[string]any)
	if !ok {
		return nil, &SchemaError{Type: nsid, Err: fmt.Errorf("missing defs")}
	}
	generated, ok := defs["generated"].(map[string]any)
	if !ok {
		return nil, &SchemaError{Type: nsid, Err: fmt.Errorf("missing defs.generated")}
	}
	record, ok := generated["record"].(map[string]any)
	if !ok {
		return nil, &SchemaError{Type: nsid, Err: fmt.Errorf("missing defs.generated.record")}
	}
	return record, nil
}

// injectPattern parses an inline (PATTERN OF 'field': regex) constraint
// from the lexicon description and attaches it to the named property.
// A pattern naming an unknown field is a warning, not a failure.
func (c *Composer) injectPattern(nsid string, doc map[string]any, record Schema) {
	desc, _ := doc["description"].(string)
	m := patternRe.FindStringSubmatch(desc)
	if m == nil {
		return
	}
	field, pattern := m[1], m[2]

	props, _ := record["properties"].(map[string]any)
	prop, ok := props[field].(map[string]any)
	if !ok {
		c.logger.Warn("pattern constraint names a field the schema does not have",
			"lexicon", nsid, "field", field)
		return
	}
	prop["pattern"] = pattern
}

// expandRefs walks the schema depth-first, substituting every
// non-fragment {"ref": X} node with X's resolved schema.
func (c *Composer) expandRefs(node any, inProgress map[string]bool) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["ref"].(string); ok {
			if strings.HasPrefix(ref, "#") {
				return v, nil
			}
			resolved, err := c.resolve(ref, true, inProgress)
			if err != nil {
				return nil, err
			}
			return resolved, nil
		}
		out := make(map[string]any, len(v))
		for key, val := range v {
			expanded, err := c.expandRefs(val, inProgress)
			if err != nil {
				return nil, err
			}
			out[key] = expanded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			expanded, err := c.expandRefs(item, inProgress)
			if err != nil {
				return nil, err
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return node, nil
	}
}

// WrapAsList produces a record schema whose key field is an array of
// item schemas, bounded by the given cardinality. Zero bounds are
// omitted. Used to ask the model for "N items of type T".
func WrapAsList(key string, item Schema, minItems, maxItems int) Schema {
	array := Schema{
		"type":  "array",
		"items": item,
	}
	if minItems > 0 {
		array["minItems"] = minItems
	}
	if maxItems > 0 {
		array["maxItems"] = maxItems
	}
	return Schema{
		"type":     "object",
		"required": []any{key},
		"properties": map[string]any{
			key: array,
		},
	}
}

// AddRequiredProperty attaches a shared sub-schema as a required
// property of schema, e.g. the "connection to content" block every
// generated item must carry.
func AddRequiredProperty(schema Schema, name string, sub Schema) {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		props = map[string]any{}
		schema["properties"] = props
	}
	props[name] = sub

	switch req := schema["required"].(type) {
	case []any:
		schema["required"] = append(req, name)
	case []string:
		anyReq := make([]any, 0, len(req)+1)
		for _, r := range req {
			anyReq = append(anyReq, r)
		}
		schema["required"] = append(anyReq, name)
	default:
		schema["required"] = []any{name}
	}
}

// deepCopySchema returns an independent copy so cached schemas cannot
// be mutated by callers composing on top of them.
func deepCopySchema(s Schema) Schema {
	return deepCopyValue(s).(Schema)
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}
