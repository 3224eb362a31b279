// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package restore

import (
	"context"
	"path"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/vpchron/core/objectstore"
)

// ProgressStore records which steps of a restore run have completed,
// keyed by (run id, step key). Re-running an interrupted restore with
// the same run id consults the store before every step and skips the
// ones already done.
type ProgressStore interface {
	// Lookup returns the new id recorded for a completed step, if any.
	Lookup(ctx context.Context, runID, stepKey string) (string, bool, error)

	// Record durably marks a step complete.
	Record(ctx context.Context, runID, stepKey, newID string) error
}

// MemoryProgressStore keeps progress in memory. Suitable for tests and
// for callers that do not need resume across process restarts.
type MemoryProgressStore struct {
	mu   sync.Mutex
	done map[string]string
}

// NewMemoryProgressStore returns an empty in-memory progress store.
func NewMemoryProgressStore() *MemoryProgressStore {
	return &MemoryProgressStore{done: make(map[string]string)}
}

// Lookup implements ProgressStore.
func (s *MemoryProgressStore) Lookup(_ context.Context, runID, stepKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID, ok := s.done[runID+"/"+stepKey]
	return newID, ok, nil
}

// Record implements ProgressStore.
func (s *MemoryProgressStore) Record(_ context.Context, runID, stepKey, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[runID+"/"+stepKey] = newID
	return nil
}

const progressPrefix = "vpc-restore-progress"

// ObjectStoreProgress persists progress records in the same object
// store the snapshots live in, one small object per completed step.
type ObjectStoreProgress struct {
	session objectstore.Session
}

// NewObjectStoreProgress returns a ProgressStore backed by the given
// object store session.
func NewObjectStoreProgress(session objectstore.Session) *ObjectStoreProgress {
	return &ObjectStoreProgress{session: session}
}

// Lookup implements ProgressStore.
func (s *ObjectStoreProgress) Lookup(ctx context.Context, runID, stepKey string) (string, bool, error) {
	body, err := s.session.GetObject(ctx, path.Join(progressPrefix, runID, stepKey))
	if errors.Is(err, errors.NotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Trace(err)
	}
	return string(body), true, nil
}

// Record implements ProgressStore.
func (s *ObjectStoreProgress) Record(ctx context.Context, runID, stepKey, newID string) error {
	key := path.Join(progressPrefix, runID, stepKey)
	return errors.Trace(s.session.PutObject(ctx, key, []byte(newID)))
}
