// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"fmt"
	"time"

	"github.com/AleutianAI/comind/services/atproto"
)

// Kind discriminates the closed set of generated record variants.
type Kind string

const (
	KindConcept Kind = "concept"
	KindThought Kind = "thought"
	KindEmotion Kind = "emotion"
	KindLink    Kind = "link"
	KindSphere  Kind = "sphere"
)

// KindForCollection maps a record collection to its variant.
func KindForCollection(collection string) (Kind, error) {
	switch collection {
	case atproto.CollectionConcept:
		return KindConcept, nil
	case atproto.CollectionThought:
		return KindThought, nil
	case atproto.CollectionEmotion:
		return KindEmotion, nil
	case atproto.CollectionLink:
		return KindLink, nil
	case atproto.CollectionSphereCore:
		return KindSphere, nil
	}
	return "", fmt.Errorf("no record variant for collection %s", collection)
}

// Connection is the generated relationship substructure attached to an
// annotation, persisted as the payload of its Link record.
type Connection struct {
	Relationship string  `json:"relationship"`
	Strength     float64 `json:"strength,omitempty"`
	Note         string  `json:"note,omitempty"`
}

// Annotation is one decoded generated item: the typed fields of its
// variant plus the optional connection back to the annotated content.
type Annotation struct {
	Kind       Kind
	Fields     map[string]any
	Connection *Connection
}

// connectionField is the generated property that carries the link
// payload; it is split off the item before the item itself is stored.
const connectionField = "connection_to_content"

// DecodeAnnotation validates one generated item against its variant and
// splits off the connection substructure.
func DecodeAnnotation(kind Kind, item map[string]any) (Annotation, error) {
	ann := Annotation{Kind: kind, Fields: make(map[string]any, len(item))}
	for k, v := range item {
		if k == connectionField {
			continue
		}
		ann.Fields[k] = v
	}

	if raw, ok := item[connectionField]; ok && raw != nil {
		conn, ok := raw.(map[string]any)
		if !ok {
			return Annotation{}, fmt.Errorf("%s: %s is not an object", kind, connectionField)
		}
		relationship, _ := conn["relationship"].(string)
		if relationship == "" {
			return Annotation{}, fmt.Errorf("%s: connection missing relationship", kind)
		}
		strength, _ := conn["strength"].(float64)
		note, _ := conn["note"].(string)
		ann.Connection = &Connection{Relationship: relationship, Strength: strength, Note: note}
	}

	if err := validateFields(kind, ann.Fields); err != nil {
		return Annotation{}, err
	}
	return ann, nil
}

func validateFields(kind Kind, fields map[string]any) error {
	requireText := func() error {
		if text, _ := fields["text"].(string); text == "" {
			return fmt.Errorf("%s: missing text", kind)
		}
		return nil
	}
	switch kind {
	case KindConcept:
		return requireText()
	case KindThought:
		if t, _ := fields["thoughtType"].(string); t == "" {
			return fmt.Errorf("thought: missing thoughtType")
		}
		return requireText()
	case KindEmotion:
		if t, _ := fields["emotionType"].(string); t == "" {
			return fmt.Errorf("emotion: missing emotionType")
		}
		return requireText()
	case KindSphere:
		if t, _ := fields["title"].(string); t == "" {
			return fmt.Errorf("sphere: missing title")
		}
		return nil
	case KindLink:
		if r, _ := fields["relationship"].(string); r == "" {
			return fmt.Errorf("link: missing relationship")
		}
		return nil
	}
	return fmt.Errorf("unknown record kind %q", kind)
}

// RecordValue renders the annotation as a repository record value.
func (a Annotation) RecordValue(collection string, createdAt time.Time) map[string]any {
	value := map[string]any{
		"$type":     collection,
		"createdAt": createdAt.Format(time.RFC3339),
	}
	for k, v := range a.Fields {
		value[k] = v
	}
	return value
}

// LinkValue renders the Link record connecting source to target with
// this annotation's connection payload.
func (a Annotation) LinkValue(source, target atproto.Ref, createdAt time.Time) map[string]any {
	value := map[string]any{
		"$type":        atproto.CollectionLink,
		"createdAt":    createdAt.Format(time.RFC3339),
		"source":       map[string]any{"uri": source.URI, "cid": source.CID},
		"target":       map[string]any{"uri": target.URI, "cid": target.CID},
		"relationship": a.Connection.Relationship,
	}
	if a.Connection.Strength != 0 {
		value["strength"] = a.Connection.Strength
	}
	if a.Connection.Note != "" {
		value["note"] = a.Connection.Note
	}
	return value
}

// Key derives the persistence key for the annotation. Concepts key on
// normalized text; everything else gets an engine-assigned key from
// newKey.
func (a Annotation) Key(newKey func() string) string {
	if a.Kind == KindConcept {
		text, _ := a.Fields["text"].(string)
		return atproto.NormalizeKey(text)
	}
	return newKey()
}
