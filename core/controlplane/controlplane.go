// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package controlplane defines the narrow capability set the capture
// and restore engines need from a cloud control plane. The engines
// never assume a concrete cloud API; anything satisfying these
// interfaces can be captured from and restored into.
package controlplane

import (
	"context"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/vpchron/core/resource"
)

// ErrTransient marks a control-plane failure worth retrying: rate
// limiting, eventual-consistency lag and the like. Implementations
// wrap such failures with errors.WithType so the restore engine can
// tell them from fatal ones.
const ErrTransient = errors.ConstError("transient control plane failure")

// PendingPrefix prefixes the identity CreateResource returns when the
// control plane deferred the actual creation until PatchResource
// supplies the reference attributes the resource cannot exist
// without. A pending identity is backed only by the implementation's
// in-process state and never survives a process restart.
const PendingPrefix = "pending:"

// IsPendingID reports whether id names a deferred creation rather
// than a real resource.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

// RawResource is one resource as described by the control plane,
// before graph assembly.
type RawResource struct {
	Kind       resource.Kind
	ID         string
	Attributes map[string]string
	Tags       map[string]string
}

// ControlPlane is the capability set required of a cloud provider.
type ControlPlane interface {
	// ListResources describes every resource of the given kind scoped
	// to a VPC. For resource.KindVPC an empty vpcID means all VPCs in
	// the region. Pagination is the implementation's problem; a
	// partial listing must be returned as an error, never as a short
	// result.
	ListResources(ctx context.Context, vpcID string, kind resource.Kind) ([]RawResource, error)

	// CreateResource creates a resource with the given structural
	// attributes and tags, returning the identity the control plane
	// assigned to it.
	CreateResource(ctx context.Context, kind resource.Kind, attributes, tags map[string]string) (string, error)

	// PatchResource applies reference-bearing attributes to an
	// already created resource.
	PatchResource(ctx context.Context, kind resource.Kind, id string, attributes map[string]string) error
}

// TagFinder is optionally implemented by control planes that can look
// a resource up by its tags. The restore engine uses it to recognise
// resources created by an interrupted run of itself.
type TagFinder interface {
	// FindByTags returns the id of the resource of the given kind
	// bearing every one of the given tags, or a NotFound error.
	FindByTags(ctx context.Context, kind resource.Kind, tags map[string]string) (string, error)
}
