// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine generates cognitive annotations about thread context
// and persists them as linked records.
//
// Each annotation collection is driven by a persona: a .co template
// with tagged system/schema/user sections and {placeholder}
// interpolation. Default personas are embedded; a directory override
// swaps them at runtime.
package engine

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/comind/pkg/logging"
	"github.com/AleutianAI/comind/services/atproto"
	"github.com/AleutianAI/comind/services/lexicon"
	"github.com/AleutianAI/comind/services/llm"
)

//go:embed prompts
var embeddedPrompts embed.FS

// AnnotationCollections are generated for every event, in order.
var AnnotationCollections = []string{
	atproto.CollectionThought,
	atproto.CollectionEmotion,
	atproto.CollectionConcept,
}

// defaultPersonas maps each annotation collection to its persona name.
var defaultPersonas = map[string]string{
	atproto.CollectionConcept: "conceptualizer",
	atproto.CollectionThought: "thinker",
	atproto.CollectionEmotion: "feeler",
}

// GenerationParseError marks model output that failed to parse against
// the generation schema. It abandons the current event only.
type GenerationParseError struct {
	Persona string
	Err     error
}

func (e *GenerationParseError) Error() string {
	return fmt.Sprintf("parsing %s generation: %v", e.Persona, e.Err)
}

func (e *GenerationParseError) Unwrap() error { return e.Err }

var (
	systemRe = regexp.MustCompile(`(?s)<CO\|SYSTEM>(.*?)</CO\|SYSTEM>`)
	schemaRe = regexp.MustCompile(`(?s)<CO\|SCHEMA>(.*?)</CO\|SCHEMA>`)
	userRe   = regexp.MustCompile(`(?s)<CO\|USER>(.*?)</CO\|USER>`)

	placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
)

// Persona is one parsed .co template. The user section is required;
// system and schema sections are optional and may appear in any order.
type Persona struct {
	Name   string
	System string
	Schema string
	User   string
}

func parsePersona(name, content string) (Persona, error) {
	p := Persona{Name: name}
	if m := userRe.FindStringSubmatch(content); m != nil {
		p.User = strings.TrimSpace(m[1])
	} else {
		return Persona{}, fmt.Errorf("persona %s: user section is required", name)
	}
	if m := systemRe.FindStringSubmatch(content); m != nil {
		p.System = strings.TrimSpace(m[1])
	}
	if m := schemaRe.FindStringSubmatch(content); m != nil {
		p.Schema = strings.TrimSpace(m[1])
	}
	return p, nil
}

// loadPersona reads and parses prompts/cominds/<name>.co from fsys.
func loadPersona(fsys fs.FS, name string) (Persona, error) {
	data, err := fs.ReadFile(fsys, path.Join("prompts", "cominds", name+".co"))
	if err != nil {
		return Persona{}, fmt.Errorf("loading persona %s: %w", name, err)
	}
	return parsePersona(name, string(data))
}

// loadCommon reads every shared fragment under prompts/common, keyed by
// basename without the .co suffix.
func loadCommon(fsys fs.FS) (map[string]string, error) {
	entries, err := fs.ReadDir(fsys, "prompts/common")
	if err != nil {
		return nil, fmt.Errorf("loading common prompts: %w", err)
	}
	common := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join("prompts", "common", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading common prompt %s: %w", entry.Name(), err)
		}
		common[strings.TrimSuffix(entry.Name(), ".co")] = strings.TrimSpace(string(data))
	}
	return common, nil
}

// interpolate fills {placeholder} slots in tmpl from fields. Any
// unresolved or empty placeholder is a template error.
func interpolate(tmpl string, fields map[string]string) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := match[1 : len(match)-1]
		value, ok := fields[key]
		if !ok || value == "" {
			missing = append(missing, key)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved template placeholders: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// recordStore is the persistence surface the engine writes through.
// *atproto.Store implements it.
type recordStore interface {
	Create(ctx context.Context, collection string, value map[string]any, rkey string) (atproto.Ref, error)
}

// Mirror receives every persisted record for property-graph upserting.
// A nil Mirror disables mirroring.
type Mirror interface {
	SyncRecord(ctx context.Context, uri, cid string, value map[string]any, kind Kind) error
}

// Engine runs the generate-and-persist pipeline for one persona set.
type Engine struct {
	composer *lexicon.Composer
	client   llm.Client
	store    recordStore
	mirror   Mirror
	logger   *logging.Logger

	fsys     fs.FS
	common   map[string]string
	personas map[string]Persona
	params   llm.GenerationParams

	now    func() time.Time
	newKey func() string
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithPromptDir overrides the embedded personas with templates from a
// directory laid out the same way (cominds/, common/).
func WithPromptDir(dir string) Option {
	return func(e *Engine) {
		e.fsys = promptDirFS{dir}
	}
}

// WithMirror enables property-graph mirroring of every created record.
func WithMirror(m Mirror) Option {
	return func(e *Engine) { e.mirror = m }
}

// WithGenerationParams overrides default sampling parameters.
func WithGenerationParams(p llm.GenerationParams) Option {
	return func(e *Engine) { e.params = p }
}

// promptDirFS serves an on-disk prompt directory under the same
// "prompts/..." paths the embedded copy uses.
type promptDirFS struct{ dir string }

func (p promptDirFS) Open(name string) (fs.File, error) {
	rel := strings.TrimPrefix(name, "prompts/")
	return os.DirFS(p.dir).Open(rel)
}

func NewEngine(composer *lexicon.Composer, client llm.Client, store recordStore, logger *logging.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		composer: composer,
		client:   client,
		store:    store,
		logger:   logger,
		fsys:     embeddedPrompts,
		now:      time.Now,
		newKey:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}

	common, err := loadCommon(e.fsys)
	if err != nil {
		return nil, err
	}
	e.common = common

	e.personas = map[string]Persona{}
	for collection, name := range defaultPersonas {
		persona, err := loadPersona(e.fsys, name)
		if err != nil {
			return nil, err
		}
		e.personas[collection] = persona
	}
	return e, nil
}

// generationSchema composes the list schema for one annotation
// collection: the collection's generated record schema with a required
// connection substructure, wrapped as a bounded list.
func (e *Engine) generationSchema(collection string) (string, lexicon.Schema, error) {
	record, err := e.composer.Resolve(collection, true)
	if err != nil {
		return "", nil, err
	}
	linkSchema, err := e.composer.Resolve(atproto.CollectionLink, true)
	if err != nil {
		return "", nil, err
	}
	lexicon.AddRequiredProperty(record, connectionField, linkSchema)

	key := pluralKey(collection)
	return key, lexicon.WrapAsList(key, record, 1, 0), nil
}

// pluralKey names the list property after the collection's last
// segment: me.comind.concept -> "concepts".
func pluralKey(collection string) string {
	parts := strings.Split(collection, ".")
	return parts[len(parts)-1] + "s"
}

// Generate runs one schema-constrained completion for collection and
// returns the generated items. fields must carry at least persona and
// content; shared fragments are merged in underneath.
func (e *Engine) Generate(ctx context.Context, collection string, fields map[string]string) ([]map[string]any, error) {
	persona, ok := e.personas[collection]
	if !ok {
		return nil, fmt.Errorf("no persona configured for collection %s", collection)
	}

	merged := make(map[string]string, len(fields)+len(e.common))
	for k, v := range e.common {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	if merged["persona"] == "" {
		return nil, fmt.Errorf("persona field is required and must be non-empty")
	}

	user, err := interpolate(persona.User, merged)
	if err != nil {
		return nil, fmt.Errorf("persona %s: %w", persona.Name, err)
	}
	var messages []llm.Message
	if persona.System != "" {
		system, err := interpolate(persona.System, merged)
		if err != nil {
			return nil, fmt.Errorf("persona %s: %w", persona.Name, err)
		}
		messages = append(messages, llm.Message{Role: "system", Content: system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: user})

	key, schema, err := e.generationSchema(collection)
	if err != nil {
		return nil, err
	}

	raw, err := e.client.Complete(ctx, messages, key, schema, e.params)
	if err != nil {
		return nil, fmt.Errorf("generation for %s: %w", collection, err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &GenerationParseError{Persona: persona.Name, Err: err}
	}
	var items []map[string]any
	if err := json.Unmarshal(decoded[key], &items); err != nil {
		return nil, &GenerationParseError{Persona: persona.Name,
			Err: fmt.Errorf("missing or malformed %q list: %w", key, err)}
	}
	e.logger.Debug("generated annotations", "collection", collection, "count", len(items))
	return items, nil
}
