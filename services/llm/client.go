// Package llm wraps schema-constrained structured generation.
//
// The backend is an opaque completion service: messages plus a JSON
// schema in, a JSON object satisfying the schema out.
package llm

import (
	"context"
	"encoding/json"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams tunes sampling. Nil fields keep backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
}

// Client is the structured-generation surface any backend implements.
// Complete must return a JSON object conforming to schema.
type Client interface {
	Complete(ctx context.Context, messages []Message, schemaName string, schema map[string]any, params GenerationParams) (json.RawMessage, error)
}
