// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package topology reads the full describable state of a VPC from the
// control plane and assembles it into a resource graph. A capture is
// all-or-nothing per VPC: if any listing fails mid-enumeration the
// whole graph is discarded rather than returned partially.
package topology

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"golang.org/x/sync/semaphore"

	"github.com/juju/vpchron/core/controlplane"
	"github.com/juju/vpchron/core/resource"
)

var logger = loggo.GetLogger("vpchron.topology")

// ErrIncompleteCapture is returned when a listing call fails before a
// VPC's resources have been fully enumerated. No partial graph is
// ever returned alongside it.
const ErrIncompleteCapture = errors.ConstError("incomplete topology capture")

// idPrefixes are the identity shapes the reader recognises when
// scanning attribute values for cross-references. A value with one of
// these shapes that is not a node of the graph is preserved as an
// external reference.
var idPrefixes = []string{
	"vpc-", "subnet-", "rtb-", "igw-", "nat-", "sg-", "acl-",
	"pcx-", "eni-", "eigw-", "vpce-",
}

// Config holds the reader's dependencies.
type Config struct {
	// ControlPlane is the provider the topology is read from.
	ControlPlane controlplane.ControlPlane

	// Concurrency bounds the listing calls in flight per VPC. Zero
	// means sequential.
	Concurrency int64
}

// Validate ensures the config values are valid.
func (c Config) Validate() error {
	if c.ControlPlane == nil {
		return errors.NotValidf("missing ControlPlane")
	}
	if c.Concurrency < 0 {
		return errors.NotValidf("negative Concurrency")
	}
	return nil
}

// Reader assembles topology graphs from control-plane listings.
type Reader struct {
	controlPlane controlplane.ControlPlane
	concurrency  int64
}

// NewReader returns a Reader for the given config.
func NewReader(cfg Config) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 1
	}
	return &Reader{
		controlPlane: cfg.ControlPlane,
		concurrency:  concurrency,
	}, nil
}

// ReadAll reads one graph per VPC visible to the control plane. If
// vpcID is non-empty only that VPC is read.
func (r *Reader) ReadAll(ctx context.Context, vpcID string) ([]resource.Graph, error) {
	vpcs, err := r.controlPlane.ListResources(ctx, vpcID, resource.KindVPC)
	if err != nil {
		return nil, errors.Annotate(err, "listing VPCs")
	}
	if vpcID != "" && len(vpcs) == 0 {
		return nil, errors.NotFoundf("VPC %q", vpcID)
	}
	graphs := make([]resource.Graph, 0, len(vpcs))
	for _, vpc := range vpcs {
		logger.Infof("capturing topology of VPC %s", vpc.ID)
		graph, err := r.Read(ctx, vpc)
		if err != nil {
			return nil, errors.Trace(err)
		}
		graphs = append(graphs, *graph)
	}
	return graphs, nil
}

// Read enumerates every resource kind for the given VPC and assembles
// the graph. Per-kind listings run concurrently; there is no ordering
// dependency between reads.
func (r *Reader) Read(ctx context.Context, vpc controlplane.RawResource) (*resource.Graph, error) {
	kinds := make([]resource.Kind, 0, len(resource.Kinds)-1)
	for _, kind := range resource.Kinds {
		if kind != resource.KindVPC {
			kinds = append(kinds, kind)
		}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := semaphore.NewWeighted(r.concurrency)
	listings := make([][]controlplane.RawResource, len(kinds))
	for i, kind := range kinds {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, errors.Trace(err)
		}
		wg.Add(1)
		go func(i int, kind resource.Kind) {
			defer wg.Done()
			defer sem.Release(1)
			raw, err := r.controlPlane.ListResources(ctx, vpc.ID, kind)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = errors.Annotatef(err, "listing %s resources of %s", kind, vpc.ID)
				}
				return
			}
			listings[i] = raw
		}(i, kind)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, errors.WithType(firstErr, ErrIncompleteCapture)
	}

	graph := &resource.Graph{VPCID: vpc.ID}
	graph.Nodes = append(graph.Nodes, newNode(vpc))
	for _, raw := range listings {
		for _, rr := range raw {
			graph.Nodes = append(graph.Nodes, newNode(rr))
		}
	}
	r.buildEdges(graph)
	if err := graph.Validate(); err != nil {
		return nil, errors.Annotatef(err, "assembled graph for VPC %q", vpc.ID)
	}
	return graph, nil
}

func newNode(raw controlplane.RawResource) resource.Node {
	// Captured nodes carry empty maps rather than nil so a snapshot
	// round trip reproduces the capture exactly.
	attrs := raw.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	tags := raw.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return resource.Node{
		Kind:       raw.Kind,
		SourceID:   raw.ID,
		Attributes: attrs,
		Tags:       tags,
	}
}

// buildEdges derives ownership edges from parent-id attributes and
// reference edges by matching attribute values against the graph's
// known ids. Id-shaped values pointing outside the graph become
// external references, kept verbatim.
func (r *Reader) buildEdges(graph *resource.Graph) {
	ids := graph.SourceIDs()
	for _, node := range graph.Nodes {
		parentAttr, _ := node.Kind.ParentAttr()
		if node.SourceID != graph.VPCID && parentAttr != "" {
			if parent, ok := node.Attributes[parentAttr]; ok {
				graph.Edges = append(graph.Edges, resource.Edge{
					From:     parent,
					To:       node.SourceID,
					Relation: resource.RelationContains,
					Attr:     parentAttr,
				})
			}
		}

		attrs := make([]string, 0, len(node.Attributes))
		for attr := range node.Attributes {
			attrs = append(attrs, attr)
		}
		sort.Strings(attrs)
		for _, attr := range attrs {
			value := node.Attributes[attr]
			if attr == parentAttr || value == node.SourceID {
				continue
			}
			switch {
			case ids.Contains(value):
				graph.Edges = append(graph.Edges, resource.Edge{
					From:     node.SourceID,
					To:       value,
					Relation: resource.RelationReferences,
					Attr:     attr,
				})
			case looksLikeResourceID(value):
				logger.Warningf("%s %s attribute %q references %s outside the captured graph; preserving verbatim",
					node.Kind, node.SourceID, attr, value)
				graph.Edges = append(graph.Edges, resource.Edge{
					From:     node.SourceID,
					To:       value,
					Relation: resource.RelationReferences,
					Attr:     attr,
					External: true,
				})
			}
		}
	}
}

func looksLikeResourceID(value string) bool {
	for _, prefix := range idPrefixes {
		if rest, ok := strings.CutPrefix(value, prefix); ok && rest != "" {
			return true
		}
	}
	return false
}
