// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lexicon

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func lexFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for path, content := range files {
		fsys[path] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestResolve_EmbeddedConcept(t *testing.T) {
	c := NewComposer(testLogger(), "")

	schema, err := c.Resolve("me.comind.concept", true)
	require.NoError(t, err)

	props := schema["properties"].(map[string]any)
	text := props["text"].(map[string]any)
	assert.Equal(t, "string", text["type"])
	// Pattern from the lexicon description must be injected.
	assert.Equal(t, "^[a-z0-9 ]+$", text["pattern"])
}

func TestResolve_ExpandsExternalRefs(t *testing.T) {
	c := NewComposer(testLogger(), "")

	schema, err := c.Resolve("me.comind.thought", true)
	require.NoError(t, err)

	// No non-fragment refs may survive resolution.
	assertNoExternalRefs(t, schema)

	props := schema["properties"].(map[string]any)
	evidence := props["evidence"].(map[string]any)
	items := evidence["items"].(map[string]any)
	assert.Equal(t, "string", items["type"], "evidence items ref should expand to the shared atUri def")
}

func TestResolve_FragmentRefsStayUnexpanded(t *testing.T) {
	fsys := lexFS(map[string]string{
		"lexicons/app/test/doc.json": `{
			"id": "app.test.doc",
			"defs": {"generated": {"record": {
				"type": "object",
				"required": ["node"],
				"properties": {
					"node": {"ref": "#node"},
					"leaf": {"ref": "app.test.leaf"}
				}
			}}}
		}`,
		"lexicons/app/test/leaf.json": `{
			"id": "app.test.leaf",
			"defs": {"generated": {"record": {"type": "integer"}}}
		}`,
	})
	c := newComposerFS(testLogger(), fsys)

	schema, err := c.Resolve("app.test.doc", true)
	require.NoError(t, err)

	props := schema["properties"].(map[string]any)
	node := props["node"].(map[string]any)
	assert.Equal(t, "#node", node["ref"], "fragment ref must remain in place")

	leaf := props["leaf"].(map[string]any)
	assert.Equal(t, "integer", leaf["type"], "external ref must be expanded")
	assert.NotContains(t, leaf, "ref")
}

func TestResolve_RefCycleIsSchemaError(t *testing.T) {
	fsys := lexFS(map[string]string{
		"lexicons/app/test/a.json": `{
			"id": "app.test.a",
			"defs": {"generated": {"record": {
				"type": "object",
				"properties": {"b": {"ref": "app.test.b"}}
			}}}
		}`,
		"lexicons/app/test/b.json": `{
			"id": "app.test.b",
			"defs": {"generated": {"record": {
				"type": "object",
				"properties": {"a": {"ref": "app.test.a"}}
			}}}
		}`,
	})
	c := newComposerFS(testLogger(), fsys)

	_, err := c.Resolve("app.test.a", true)
	require.Error(t, err)
	var schemaErr *SchemaError
	assert.True(t, errors.As(err, &schemaErr))
	assert.Contains(t, err.Error(), "cycle")
}

func TestResolve_MissingLexiconIsFatal(t *testing.T) {
	c := NewComposer(testLogger(), "")

	_, err := c.Resolve("me.comind.nonexistent", true)
	require.Error(t, err)
	var schemaErr *SchemaError
	assert.True(t, errors.As(err, &schemaErr))
}

func TestResolve_PatternForUnknownFieldWarnsOnly(t *testing.T) {
	fsys := lexFS(map[string]string{
		"lexicons/app/test/pat.json": `{
			"id": "app.test.pat",
			"description": "whatever (PATTERN OF 'missing': ^x$)",
			"defs": {"generated": {"record": {
				"type": "object",
				"properties": {"text": {"type": "string"}}
			}}}
		}`,
	})
	c := newComposerFS(testLogger(), fsys)

	schema, err := c.Resolve("app.test.pat", false)
	require.NoError(t, err)
	props := schema["properties"].(map[string]any)
	text := props["text"].(map[string]any)
	assert.NotContains(t, text, "pattern")
}

func TestResolve_CachedSchemaIsCopied(t *testing.T) {
	c := NewComposer(testLogger(), "")

	first, err := c.Resolve("me.comind.concept", true)
	require.NoError(t, err)
	AddRequiredProperty(first, "extra", Schema{"type": "string"})

	second, err := c.Resolve("me.comind.concept", true)
	require.NoError(t, err)
	props := second["properties"].(map[string]any)
	assert.NotContains(t, props, "extra", "caller mutation must not leak into the cache")
}

func TestWrapAsList(t *testing.T) {
	item := Schema{"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}}}

	wrapped := WrapAsList("concepts", item, 1, 10)

	assert.Equal(t, "object", wrapped["type"])
	assert.Equal(t, []any{"concepts"}, wrapped["required"])

	props := wrapped["properties"].(map[string]any)
	array := props["concepts"].(map[string]any)
	assert.Equal(t, "array", array["type"])
	assert.Equal(t, 1, array["minItems"])
	assert.Equal(t, 10, array["maxItems"])
	assert.Equal(t, item, array["items"])
}

func TestWrapAsList_OmitsZeroBounds(t *testing.T) {
	wrapped := WrapAsList("items", Schema{"type": "string"}, 0, 0)
	props := wrapped["properties"].(map[string]any)
	array := props["items"].(map[string]any)
	assert.NotContains(t, array, "minItems")
	assert.NotContains(t, array, "maxItems")
}

func TestAddRequiredProperty(t *testing.T) {
	schema := Schema{
		"type":       "object",
		"required":   []any{"text"},
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
	}
	sub := Schema{"type": "object", "properties": map[string]any{"relationship": map[string]any{"type": "string"}}}

	AddRequiredProperty(schema, "connection_to_content", sub)

	props := schema["properties"].(map[string]any)
	assert.Equal(t, sub, props["connection_to_content"])
	assert.Equal(t, []any{"text", "connection_to_content"}, schema["required"])
}

// assertNoExternalRefs walks the schema and fails on any remaining
// non-fragment {"ref": X}.
func assertNoExternalRefs(t *testing.T, node any) {
	t.Helper()
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["ref"].(string); ok {
			assert.True(t, len(ref) > 0 && ref[0] == '#', "unexpanded external ref %q", ref)
		}
		for _, val := range v {
			assertNoExternalRefs(t, val)
		}
	case []any:
		for _, item := range v {
			assertNoExternalRefs(t, item)
		}
	}
}
