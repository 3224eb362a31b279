// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package plan turns a captured topology graph into a deterministic,
// dependency-safe sequence of restoration steps. Creation order is a
// topological sort over ownership edges only; reference cycles are
// broken by a two-phase scheme in which every node is first created
// from its reference-free attributes and the reference-bearing ones
// are attached once every node of the graph exists.
package plan

import (
	"sort"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/vpchron/core/resource"
)

// ErrCyclicOwnership indicates a cycle in the graph's ownership edges.
// Ownership is a forest by construction, so this is always a model
// bug, never a retryable condition.
const ErrCyclicOwnership = errors.ConstError("cyclic ownership")

// Op is the operation a step performs.
type Op string

const (
	// OpCreateSkeleton creates a resource with only the attributes
	// that carry no cross-reference.
	OpCreateSkeleton Op = "create-skeleton"

	// OpAttachReferences patches in the reference-bearing attributes
	// once every referenced node has been created.
	OpAttachReferences Op = "attach-references"
)

// Step is one unit of restoration work.
type Step struct {
	Op   Op
	Node resource.Node

	// Tier is the step's topological depth. Steps sharing a tier have
	// no dependency between them and may run concurrently; tiers run
	// strictly in order.
	Tier int

	// Attributes are the structural attributes to create the skeleton
	// with. Unset for attach steps.
	Attributes map[string]string

	// References are the reference edges an attach step applies.
	// Unset for skeleton steps.
	References []resource.Edge
}

// Plan is the ordered restoration plan for one VPC graph. It is
// recomputed from the graph on every restore, never persisted.
type Plan struct {
	VPCID string
	Steps []Step
}

// Build computes the restoration plan for a graph. The result is
// deterministic: ties between independent nodes of the same tier are
// broken by capture-time source id.
func Build(graph *resource.Graph) (*Plan, error) {
	if err := graph.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	owned := make(map[string][]string)
	indegree := make(map[string]int)
	for _, n := range graph.Nodes {
		indegree[n.SourceID] = 0
	}
	for _, e := range graph.ContainsEdges() {
		owned[e.From] = append(owned[e.From], e.To)
		indegree[e.To]++
	}

	var frontier []string
	for _, n := range graph.Nodes {
		if indegree[n.SourceID] == 0 {
			frontier = append(frontier, n.SourceID)
		}
	}

	p := &Plan{VPCID: graph.VPCID}
	scheduled := 0
	for tier := 0; len(frontier) > 0; tier++ {
		sort.Strings(frontier)
		var next []string
		for _, id := range frontier {
			node, _ := graph.Node(id)
			p.Steps = append(p.Steps, Step{
				Op:         OpCreateSkeleton,
				Node:       node,
				Tier:       tier,
				Attributes: structuralAttributes(graph, node),
			})
			scheduled++
			for _, child := range owned[id] {
				indegree[child]--
				if indegree[child] == 0 {
					next = append(next, child)
				}
			}
		}
		frontier = next
	}
	if scheduled != len(graph.Nodes) {
		var stuck []string
		for id, d := range indegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, errors.WithType(
			errors.Errorf("ownership cycle involving %s", strings.Join(stuck, ", ")),
			ErrCyclicOwnership,
		)
	}

	// Attach steps run only after every skeleton of the graph exists,
	// so cyclic references between already created nodes resolve.
	// Among attach steps themselves, a step whose node is referenced
	// by another attach step's node runs in an earlier sub-tier, so
	// that a resource whose creation the control plane had to defer
	// is complete before anything naming it is patched. Reference
	// cycles (mutually referencing security groups) collapse into a
	// shared sub-tier, which is safe: their targets exist from the
	// skeleton phase.
	attachBase := p.Steps[len(p.Steps)-1].Tier + 1
	attaching := make(map[string][]resource.Edge)
	for _, n := range graph.Nodes {
		if refs := graph.References(n.SourceID); len(refs) > 0 {
			attaching[n.SourceID] = refs
		}
	}
	depth := attachDepths(attaching)
	var attachIDs []string
	for id := range attaching {
		attachIDs = append(attachIDs, id)
	}
	sort.Slice(attachIDs, func(i, j int) bool {
		if depth[attachIDs[i]] != depth[attachIDs[j]] {
			return depth[attachIDs[i]] < depth[attachIDs[j]]
		}
		return attachIDs[i] < attachIDs[j]
	})
	for _, id := range attachIDs {
		node, _ := graph.Node(id)
		p.Steps = append(p.Steps, Step{
			Op:         OpAttachReferences,
			Node:       node,
			Tier:       attachBase + depth[id],
			References: attaching[id],
		})
	}
	return p, nil
}

// attachDepths orders the attach phase: if node A references node B
// and both have attach steps, B's depth is strictly less than A's.
// Members of reference cycles share the deepest depth reached when
// the peeling stops.
func attachDepths(attaching map[string][]resource.Edge) map[string]int {
	dependantsOf := make(map[string][]string)
	prereqs := make(map[string]int)
	for id, refs := range attaching {
		for _, e := range refs {
			if _, ok := attaching[e.To]; ok && e.To != id {
				dependantsOf[e.To] = append(dependantsOf[e.To], id)
				prereqs[id]++
			}
		}
	}
	depth := make(map[string]int, len(attaching))
	var frontier []string
	for id := range attaching {
		if prereqs[id] == 0 {
			frontier = append(frontier, id)
		}
	}
	d := 0
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			depth[id] = d
			for _, dep := range dependantsOf[id] {
				prereqs[dep]--
				if prereqs[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
		d++
	}
	for id := range attaching {
		if _, ok := depth[id]; !ok {
			depth[id] = d
		}
	}
	return depth
}

// structuralAttributes returns the node's attributes minus those that
// carry a reference to another node, which are deferred to the attach
// phase.
func structuralAttributes(graph *resource.Graph, node resource.Node) map[string]string {
	referential := make(map[string]bool)
	for _, e := range graph.References(node.SourceID) {
		referential[e.Attr] = true
	}
	attrs := make(map[string]string, len(node.Attributes))
	for k, v := range node.Attributes {
		if !referential[k] {
			attrs[k] = v
		}
	}
	return attrs
}
