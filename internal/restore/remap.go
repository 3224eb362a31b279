// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package restore

import (
	"sync"

	"github.com/juju/errors"
)

// RemapTable records the identity each captured resource was given by
// the restore target. Keys are written exactly once, by the step that
// created (or recognised) the resource, and read by every later step
// that needs to translate a capture-time id. It is safe for
// concurrent use.
type RemapTable struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewRemapTable returns an empty remap table.
func NewRemapTable() *RemapTable {
	return &RemapTable{ids: make(map[string]string)}
}

// Record stores the new identity for a source id. Recording the same
// pair twice is a no-op; recording a conflicting new id is an error,
// since identities are assigned exactly once per run.
func (t *RemapTable) Record(sourceID, newID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.ids[sourceID]; ok && existing != newID {
		return errors.AlreadyExistsf("mapping %q -> %q (new id %q)", sourceID, existing, newID)
	}
	t.ids[sourceID] = newID
	return nil
}

// Lookup returns the new identity for a source id.
func (t *RemapTable) Lookup(sourceID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	newID, ok := t.ids[sourceID]
	return newID, ok
}

// Translate returns the new identity for a value if one has been
// recorded, or the value unchanged otherwise.
func (t *RemapTable) Translate(value string) string {
	if newID, ok := t.Lookup(value); ok {
		return newID
	}
	return value
}

// All returns a copy of the table's contents.
func (t *RemapTable) All() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.ids))
	for k, v := range t.ids {
		out[k] = v
	}
	return out
}
