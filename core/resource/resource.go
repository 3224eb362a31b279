// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package resource holds the typed model of a captured VPC topology:
// nodes for each describable resource, and edges for the ownership and
// reference relationships between them. A Graph is immutable once
// captured; restoration never mutates it, identity translation happens
// in the restore engine's remap table instead.
package resource

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Relation classifies an edge between two resource nodes.
type Relation string

const (
	// RelationContains is an ownership edge. Ownership edges form a
	// forest rooted at the VPC node: the owner must exist before the
	// owned resource can be created.
	RelationContains Relation = "contains"

	// RelationReferences is a non-owning cross-reference, such as a
	// security group rule naming a peer group. Reference edges may
	// form cycles.
	RelationReferences Relation = "references"
)

// Node is one captured resource. SourceID is the identity assigned by
// the environment the backup was taken from; it is opaque and never
// reused at restore time.
type Node struct {
	Kind       Kind
	SourceID   string
	Attributes map[string]string
	Tags       map[string]string
}

// Edge relates two nodes of the same graph. Attr names the attribute on
// the From node that carries the relationship, so that a restore can
// translate exactly that attribute and nothing else. External marks a
// reference whose target lives outside the captured graph (a peered
// VPC in another account, for example); such targets are preserved
// verbatim and never translated.
type Edge struct {
	From     string
	To       string
	Relation Relation
	Attr     string
	External bool
}

// Graph is the dependency graph of a single VPC's resources at capture
// time. Node order is the capture order and is preserved through
// encode/decode round trips.
type Graph struct {
	VPCID string
	Nodes []Node
	Edges []Edge
}

// Node returns the node with the given source id, if present.
func (g *Graph) Node(sourceID string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.SourceID == sourceID {
			return n, true
		}
	}
	return Node{}, false
}

// SourceIDs returns the set of node identities in the graph.
func (g *Graph) SourceIDs() set.Strings {
	ids := set.NewStrings()
	for _, n := range g.Nodes {
		ids.Add(n.SourceID)
	}
	return ids
}

// ContainsEdges returns the ownership edges of the graph.
func (g *Graph) ContainsEdges() []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Relation == RelationContains {
			out = append(out, e)
		}
	}
	return out
}

// References returns the reference edges leaving the given node.
func (g *Graph) References(sourceID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Relation == RelationReferences && e.From == sourceID {
			out = append(out, e)
		}
	}
	return out
}

// Validate checks the structural invariants of a captured graph:
// every node other than the root VPC has exactly one owner, all edge
// endpoints are in-graph (or flagged external for references), and all
// kinds are members of the closed enumeration.
func (g *Graph) Validate() error {
	if g.VPCID == "" {
		return errors.NotValidf("graph with empty VPC id")
	}
	ids := set.NewStrings()
	for _, n := range g.Nodes {
		if _, err := ParseKind(string(n.Kind)); err != nil {
			return errors.Trace(err)
		}
		if n.SourceID == "" {
			return errors.NotValidf("%s node with empty source id", n.Kind)
		}
		if ids.Contains(n.SourceID) {
			return errors.NotValidf("duplicate node %q", n.SourceID)
		}
		ids.Add(n.SourceID)
	}
	if !ids.Contains(g.VPCID) {
		return errors.NotValidf("graph missing root VPC node %q", g.VPCID)
	}

	owners := make(map[string]string)
	for _, e := range g.Edges {
		if !ids.Contains(e.From) {
			return errors.NotValidf("edge from unknown node %q", e.From)
		}
		switch e.Relation {
		case RelationContains:
			if !ids.Contains(e.To) {
				return errors.NotValidf("ownership edge to unknown node %q", e.To)
			}
			if owner, ok := owners[e.To]; ok {
				return errors.NotValidf("node %q owned by both %q and %q", e.To, owner, e.From)
			}
			owners[e.To] = e.From
		case RelationReferences:
			if !e.External && !ids.Contains(e.To) {
				return errors.NotValidf("reference edge to unknown node %q", e.To)
			}
		default:
			return errors.NotValidf("edge relation %q", e.Relation)
		}
	}
	for _, n := range g.Nodes {
		if n.SourceID == g.VPCID {
			continue
		}
		if _, ok := owners[n.SourceID]; !ok {
			return errors.NotValidf("node %q without an owner", n.SourceID)
		}
	}
	return nil
}
