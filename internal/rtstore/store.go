// Package rtstore provides the shared state tree that teacher and student
// clients coordinate through. Values live at slash-separated paths; writers
// replace or merge JSON documents, subscribers receive pushed updates for a
// path and everything beneath it. The store enforces no schema: field
// invariants belong to the callers.
package rtstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNotFound    = errors.New("path not found")
	ErrInvalidPath = errors.New("invalid path")
)

// Update is pushed to subscribers on every mutation. Value is nil when the
// node was deleted.
type Update struct {
	Path  string
	Value json.RawMessage
}

// Store is the synchronization medium. There are no multi-path transactions;
// per-path writes are last-write-wins.
type Store interface {
	// Read returns the document at path. If no document exists there but
	// descendants do, the descendants are assembled into a nested object.
	Read(ctx context.Context, path string) (json.RawMessage, error)
	// Write replaces the document at path.
	Write(ctx context.Context, path string, value interface{}) error
	// MergeWrite updates only the given top-level fields of the document at
	// path, creating it if absent.
	MergeWrite(ctx context.Context, path string, fields map[string]interface{}) error
	// Delete removes the document at path and every descendant.
	Delete(ctx context.Context, path string) error
	// Subscribe registers fn for updates at or under path. fn may be invoked
	// from another goroutine and must be reentrant-safe: it may itself call
	// back into the store. The returned func cancels the subscription.
	Subscribe(path string, fn func(Update)) (unsubscribe func())
}

// CleanPath canonicalizes a tree path. Empty segments and leading/trailing
// slashes are rejected rather than repaired.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}

// Covers reports whether an update at updatePath is visible to a subscriber
// of subPath: same node, a descendant of it, or an ancestor being replaced.
func Covers(subPath, updatePath string) bool {
	if subPath == updatePath {
		return true
	}
	if strings.HasPrefix(updatePath, subPath+"/") {
		return true
	}
	return strings.HasPrefix(subPath, updatePath+"/")
}
