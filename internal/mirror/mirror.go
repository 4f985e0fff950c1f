// Package mirror copies fetched collections into an on-device store so they
// can be read while offline.
//
// A mirror is a one-directional copy-down: every reload replaces the stored
// collection with what was fetched. Local edits that never reached the
// backend are overwritten.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document is one mirrored entity.
type Document struct {
	ID   string
	Body json.RawMessage
}

// Hook receives collections after a full reload.
type Hook interface {
	Replace(ctx context.Context, collection string, docs []Document) error
}

// NopHook discards everything.
type NopHook struct{}

func (NopHook) Replace(context.Context, string, []Document) error { return nil }

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, collection string, docs []Document) error

func (f HookFunc) Replace(ctx context.Context, collection string, docs []Document) error {
	return f(ctx, collection, docs)
}

// DocumentsFromJSON splits a JSON array of objects into documents keyed by
// their "_id" field.
func DocumentsFromJSON(raw json.RawMessage) ([]Document, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("collection is not an array: %w", err)
	}

	docs := make([]Document, 0, len(items))
	for i, item := range items {
		var head struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if head.ID == "" {
			return nil, fmt.Errorf("item %d: missing _id", i)
		}
		docs = append(docs, Document{ID: head.ID, Body: item})
	}
	return docs, nil
}
