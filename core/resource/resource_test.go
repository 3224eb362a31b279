// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package resource_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/vpchron/core/resource"
)

type kindSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&kindSuite{})

func (s *kindSuite) TestParseKindRoundTrips(c *gc.C) {
	for _, kind := range resource.Kinds {
		parsed, err := resource.ParseKind(kind.String())
		c.Assert(err, jc.ErrorIsNil)
		c.Check(parsed, gc.Equals, kind)
	}
}

func (s *kindSuite) TestParseKindRejectsUnknown(c *gc.C) {
	_, err := resource.ParseKind("elastic-ip")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
	_, err = resource.ParseKind("")
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *kindSuite) TestParentAttr(c *gc.C) {
	for kind, expected := range map[resource.Kind]string{
		resource.KindSubnet:               "vpcId",
		resource.KindRouteTable:           "vpcId",
		resource.KindInternetGateway:      "vpcId",
		resource.KindSecurityGroup:        "vpcId",
		resource.KindNetworkAcl:           "vpcId",
		resource.KindVpcPeeringConnection: "vpcId",
		resource.KindNatGateway:           "subnetId",
		resource.KindRoute:                "routeTableId",
		resource.KindSecurityGroupRule:    "groupId",
		resource.KindNetworkAclEntry:      "networkAclId",
	} {
		attr, ok := kind.ParentAttr()
		c.Check(ok, jc.IsTrue, gc.Commentf("kind %s", kind))
		c.Check(attr, gc.Equals, expected, gc.Commentf("kind %s", kind))
	}
}

func (s *kindSuite) TestVPCHasNoParent(c *gc.C) {
	_, ok := resource.KindVPC.ParentAttr()
	c.Assert(ok, jc.IsFalse)
}

type graphSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&graphSuite{})

func validGraph() *resource.Graph {
	return &resource.Graph{
		VPCID: "vpc-1",
		Nodes: []resource.Node{
			{Kind: resource.KindVPC, SourceID: "vpc-1", Attributes: map[string]string{"cidrBlock": "10.0.0.0/16"}},
			{Kind: resource.KindSubnet, SourceID: "subnet-1", Attributes: map[string]string{"vpcId": "vpc-1"}},
			{Kind: resource.KindSecurityGroup, SourceID: "sg-1", Attributes: map[string]string{"vpcId": "vpc-1"}},
			{Kind: resource.KindSecurityGroup, SourceID: "sg-2", Attributes: map[string]string{"vpcId": "vpc-1"}},
		},
		Edges: []resource.Edge{
			{From: "vpc-1", To: "subnet-1", Relation: resource.RelationContains, Attr: "vpcId"},
			{From: "vpc-1", To: "sg-1", Relation: resource.RelationContains, Attr: "vpcId"},
			{From: "vpc-1", To: "sg-2", Relation: resource.RelationContains, Attr: "vpcId"},
			{From: "sg-1", To: "sg-2", Relation: resource.RelationReferences, Attr: "referencedGroupId"},
		},
	}
}

func (s *graphSuite) TestValidateAcceptsWellFormedGraph(c *gc.C) {
	c.Assert(validGraph().Validate(), jc.ErrorIsNil)
}

func (s *graphSuite) TestValidateRejectsEmptyVPCID(c *gc.C) {
	g := validGraph()
	g.VPCID = ""
	c.Assert(g.Validate(), jc.ErrorIs, errors.NotValid)
}

func (s *graphSuite) TestValidateRejectsMissingRootNode(c *gc.C) {
	g := validGraph()
	g.VPCID = "vpc-other"
	c.Assert(g.Validate(), gc.ErrorMatches, `.*missing root VPC node "vpc-other".*`)
}

func (s *graphSuite) TestValidateRejectsDuplicateNode(c *gc.C) {
	g := validGraph()
	g.Nodes = append(g.Nodes, resource.Node{Kind: resource.KindSubnet, SourceID: "subnet-1"})
	c.Assert(g.Validate(), gc.ErrorMatches, `.*duplicate node "subnet-1".*`)
}

func (s *graphSuite) TestValidateRejectsUnknownKind(c *gc.C) {
	g := validGraph()
	g.Nodes[1].Kind = "flow-log"
	c.Assert(g.Validate(), jc.ErrorIs, errors.NotValid)
}

func (s *graphSuite) TestValidateRejectsOrphanNode(c *gc.C) {
	g := validGraph()
	g.Nodes = append(g.Nodes, resource.Node{Kind: resource.KindRouteTable, SourceID: "rtb-1"})
	c.Assert(g.Validate(), gc.ErrorMatches, `.*node "rtb-1" without an owner.*`)
}

func (s *graphSuite) TestValidateRejectsSecondOwner(c *gc.C) {
	g := validGraph()
	g.Edges = append(g.Edges, resource.Edge{
		From: "sg-1", To: "subnet-1", Relation: resource.RelationContains, Attr: "vpcId",
	})
	c.Assert(g.Validate(), gc.ErrorMatches, `.*owned by both.*`)
}

func (s *graphSuite) TestValidateRejectsDanglingReference(c *gc.C) {
	g := validGraph()
	g.Edges = append(g.Edges, resource.Edge{
		From: "sg-1", To: "sg-gone", Relation: resource.RelationReferences, Attr: "referencedGroupId",
	})
	c.Assert(g.Validate(), gc.ErrorMatches, `.*reference edge to unknown node "sg-gone".*`)
}

func (s *graphSuite) TestValidateAcceptsExternalReference(c *gc.C) {
	g := validGraph()
	g.Edges = append(g.Edges, resource.Edge{
		From: "sg-1", To: "vpc-peer", Relation: resource.RelationReferences, Attr: "peerVpcId", External: true,
	})
	c.Assert(g.Validate(), jc.ErrorIsNil)
}

func (s *graphSuite) TestValidateRejectsEdgeFromUnknownNode(c *gc.C) {
	g := validGraph()
	g.Edges = append(g.Edges, resource.Edge{
		From: "igw-gone", To: "sg-1", Relation: resource.RelationReferences, Attr: "x",
	})
	c.Assert(g.Validate(), gc.ErrorMatches, `.*edge from unknown node "igw-gone".*`)
}

func (s *graphSuite) TestNodeLookup(c *gc.C) {
	g := validGraph()
	n, ok := g.Node("subnet-1")
	c.Assert(ok, jc.IsTrue)
	c.Check(n.Kind, gc.Equals, resource.KindSubnet)
	_, ok = g.Node("subnet-2")
	c.Check(ok, jc.IsFalse)
}

func (s *graphSuite) TestSourceIDs(c *gc.C) {
	c.Assert(validGraph().SourceIDs().SortedValues(), jc.DeepEquals, []string{
		"sg-1", "sg-2", "subnet-1", "vpc-1",
	})
}

func (s *graphSuite) TestContainsEdges(c *gc.C) {
	edges := validGraph().ContainsEdges()
	c.Assert(edges, gc.HasLen, 3)
	for _, e := range edges {
		c.Check(e.Relation, gc.Equals, resource.RelationContains)
	}
}

func (s *graphSuite) TestReferences(c *gc.C) {
	refs := validGraph().References("sg-1")
	c.Assert(refs, gc.HasLen, 1)
	c.Check(refs[0].To, gc.Equals, "sg-2")
	c.Check(validGraph().References("sg-2"), gc.HasLen, 0)
}
