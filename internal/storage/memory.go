// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"
)

// MemorySession is an in-memory objectstore.Session, used by tests
// and dry runs.
type MemorySession struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemorySession returns an empty in-memory session.
func NewMemorySession() *MemorySession {
	return &MemorySession{objects: make(map[string][]byte)}
}

// PutObject implements objectstore.Session.
func (s *MemorySession) PutObject(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), body...)
	return nil
}

// GetObject implements objectstore.Session.
func (s *MemorySession) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[key]
	if !ok {
		return nil, errors.NotFoundf("object %q", key)
	}
	return append([]byte(nil), body...), nil
}

// ListObjects implements objectstore.Session.
func (s *MemorySession) ListObjects(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
