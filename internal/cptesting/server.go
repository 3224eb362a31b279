// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cptesting implements an in-memory control plane simulator
// for use in testing.
package cptesting

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"

	"github.com/juju/vpchron/core/controlplane"
	"github.com/juju/vpchron/core/resource"
	"github.com/juju/vpchron/internal/restore"
)

// CreatedResource is one resource created through the server.
type CreatedResource struct {
	Kind       resource.Kind
	ID         string
	Attributes map[string]string
	Tags       map[string]string
}

// PatchCall is one recorded PatchResource invocation.
type PatchCall struct {
	Kind       resource.Kind
	ID         string
	Attributes map[string]string
}

// Server implements controlplane.ControlPlane and
// controlplane.TagFinder in memory, with failure injection keyed by
// the vpchron source-id tag the restore engine stamps on every
// create.
type Server struct {
	mu sync.Mutex

	listings map[string]map[resource.Kind][]controlplane.RawResource
	vpcs     []controlplane.RawResource

	nextID      int
	created     []CreatedResource
	patches     []PatchCall
	createCalls map[string]int

	listErrs   map[string]error
	createErrs map[string][]error
	patchErrs  map[string][]error
}

// NewServer returns an empty simulator.
func NewServer() *Server {
	return &Server{
		listings:    make(map[string]map[resource.Kind][]controlplane.RawResource),
		createCalls: make(map[string]int),
		listErrs:    make(map[string]error),
		createErrs:  make(map[string][]error),
		patchErrs:   make(map[string][]error),
	}
}

// SeedVPC registers a VPC and its resources for listing.
func (s *Server) SeedVPC(vpc controlplane.RawResource, resources ...controlplane.RawResource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vpcs = append(s.vpcs, vpc)
	byKind, ok := s.listings[vpc.ID]
	if !ok {
		byKind = make(map[resource.Kind][]controlplane.RawResource)
		s.listings[vpc.ID] = byKind
	}
	for _, r := range resources {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}
}

// FailList makes listing the given kind for the given VPC fail.
func (s *Server) FailList(vpcID string, kind resource.Kind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErrs[vpcID+"/"+string(kind)] = err
}

// FailCreate queues errors returned by successive creates of the
// resource restored from the given source id.
func (s *Server) FailCreate(sourceID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErrs[sourceID] = append(s.createErrs[sourceID], errs...)
}

// FailPatch queues errors returned by successive patches of the
// resource restored from the given source id.
func (s *Server) FailPatch(sourceID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patchErrs[sourceID] = append(s.patchErrs[sourceID], errs...)
}

// ListResources implements controlplane.ControlPlane.
func (s *Server) ListResources(_ context.Context, vpcID string, kind resource.Kind) ([]controlplane.RawResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErrs[vpcID+"/"+string(kind)]; err != nil {
		return nil, err
	}
	if kind == resource.KindVPC {
		if vpcID == "" {
			return append([]controlplane.RawResource(nil), s.vpcs...), nil
		}
		for _, vpc := range s.vpcs {
			if vpc.ID == vpcID {
				return []controlplane.RawResource{vpc}, nil
			}
		}
		return nil, nil
	}
	return s.listings[vpcID][kind], nil
}

// CreateResource implements controlplane.ControlPlane.
func (s *Server) CreateResource(_ context.Context, kind resource.Kind, attrs, tags map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sourceID := tags[restore.TagSourceID]
	s.createCalls[sourceID]++
	if queue := s.createErrs[sourceID]; len(queue) > 0 {
		err := queue[0]
		s.createErrs[sourceID] = queue[1:]
		return "", err
	}
	s.nextID++
	id := fmt.Sprintf("new-%s-%d", kind, s.nextID)
	s.created = append(s.created, CreatedResource{
		Kind:       kind,
		ID:         id,
		Attributes: copyMap(attrs),
		Tags:       copyMap(tags),
	})
	return id, nil
}

// PatchResource implements controlplane.ControlPlane.
func (s *Server) PatchResource(_ context.Context, kind resource.Kind, id string, attrs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.created {
		if c.ID != id {
			continue
		}
		sourceID := c.Tags[restore.TagSourceID]
		if queue := s.patchErrs[sourceID]; len(queue) > 0 {
			err := queue[0]
			s.patchErrs[sourceID] = queue[1:]
			return err
		}
		s.patches = append(s.patches, PatchCall{
			Kind:       kind,
			ID:         id,
			Attributes: copyMap(attrs),
		})
		return nil
	}
	return errors.NotFoundf("resource %q", id)
}

// FindByTags implements controlplane.TagFinder.
func (s *Server) FindByTags(_ context.Context, kind resource.Kind, tags map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.created {
		if c.Kind != kind {
			continue
		}
		match := true
		for k, v := range tags {
			if c.Tags[k] != v {
				match = false
				break
			}
		}
		if match {
			return c.ID, nil
		}
	}
	return "", errors.NotFoundf("%s bearing tags %v", kind, tags)
}

// CreateCalls returns how many creates were attempted for the
// resource restored from the given source id.
func (s *Server) CreateCalls(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls[sourceID]
}

// Created returns every resource created so far.
func (s *Server) Created() []CreatedResource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CreatedResource(nil), s.created...)
}

// CreatedBySource returns the resource created for the given capture
// source id, if any.
func (s *Server) CreatedBySource(sourceID string) (CreatedResource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.created {
		if c.Tags[restore.TagSourceID] == sourceID {
			return c, true
		}
	}
	return CreatedResource{}, false
}

// Patches returns every patch call recorded so far.
func (s *Server) Patches() []PatchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PatchCall(nil), s.patches...)
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
