// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package objectstore defines the object storage capability the
// backup engine persists snapshots through. Keys are timestamp-derived
// so that "latest" and "by timestamp" lookups are plain lexicographic
// operations over a listing.
package objectstore

import (
	"context"
)

// Session provides access to one bucket of an object store.
type Session interface {
	// PutObject writes an object, replacing any existing object at
	// the same key.
	PutObject(ctx context.Context, key string, body []byte) error

	// GetObject returns the contents of the object at key, or a
	// NotFound error.
	GetObject(ctx context.Context, key string) ([]byte, error)

	// ListObjects returns the keys under the given prefix in
	// lexicographic order.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
