// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snapshot_test

import (
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/vpchron/core/resource"
	"github.com/juju/vpchron/core/snapshot"
)

type codecSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&codecSuite{})

func (s *codecSuite) snapshot(c *gc.C) *snapshot.Snapshot {
	snap := snapshot.New("eu-west-1", "123456789012", time.Date(2025, 6, 1, 12, 0, 0, 500_000_000, time.UTC))
	snap.Graphs = []resource.Graph{{
		VPCID: "vpc-1",
		Nodes: []resource.Node{
			{
				Kind:       resource.KindVPC,
				SourceID:   "vpc-1",
				Attributes: map[string]string{"cidrBlock": "10.0.0.0/16"},
				Tags:       map[string]string{"Name": "prod"},
			},
			{
				Kind:       resource.KindSubnet,
				SourceID:   "subnet-1",
				Attributes: map[string]string{"vpcId": "vpc-1", "cidrBlock": "10.0.1.0/24"},
				Tags:       map[string]string{},
			},
		},
		Edges: []resource.Edge{
			{From: "vpc-1", To: "subnet-1", Relation: resource.RelationContains, Attr: "vpcId"},
			{From: "subnet-1", To: "pcx-external", Relation: resource.RelationReferences, Attr: "peer", External: true},
		},
	}}
	return snap
}

func (s *codecSuite) TestNewTruncatesTimestamp(c *gc.C) {
	snap := s.snapshot(c)
	c.Assert(snap.Timestamp, gc.Equals, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c.Assert(snap.FormatVersion, gc.Equals, snapshot.CurrentFormatVersion)
}

func (s *codecSuite) TestRoundTripJSON(c *gc.C) {
	snap := s.snapshot(c)
	data, err := snapshot.Encode(snap)
	c.Assert(err, jc.ErrorIsNil)

	decoded, err := snapshot.Decode(data)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(decoded, jc.DeepEquals, snap)
}

func (s *codecSuite) TestRoundTripYAML(c *gc.C) {
	snap := s.snapshot(c)
	data, err := snapshot.EncodeYAML(snap)
	c.Assert(err, jc.ErrorIsNil)

	decoded, err := snapshot.Decode(data)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(decoded, jc.DeepEquals, snap)
}

func (s *codecSuite) TestRoundTripKeepsEmptyCollections(c *gc.C) {
	snap := s.snapshot(c)
	snap.Graphs[0].Nodes[1].Tags = map[string]string{}

	data, err := snapshot.Encode(snap)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), jc.Contains, `"tags": {}`)

	decoded, err := snapshot.Decode(data)
	c.Assert(err, jc.ErrorIsNil)
	tags := decoded.Graphs[0].Nodes[1].Tags
	c.Assert(tags, gc.NotNil)
	c.Assert(tags, gc.HasLen, 0)
}

func (s *codecSuite) TestDecodeNormalisesMissingCollections(c *gc.C) {
	doc := `
format-version: 1.0.0
timestamp: "2025-06-01T12:00:00Z"
region: eu-west-1
account-id: "123456789012"
graphs:
- vpc-id: vpc-1
  nodes:
  - kind: vpc
    source-id: vpc-1
  edges: []
`
	snap, err := snapshot.Decode([]byte(doc))
	c.Assert(err, jc.ErrorIsNil)
	node := snap.Graphs[0].Nodes[0]
	c.Assert(node.Attributes, gc.NotNil)
	c.Assert(node.Tags, gc.NotNil)
}

func (s *codecSuite) TestEncodeIsDeterministic(c *gc.C) {
	snap := s.snapshot(c)
	first, err := snapshot.Encode(snap)
	c.Assert(err, jc.ErrorIsNil)
	second, err := snapshot.Encode(snap)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(string(second), gc.Equals, string(first))
}

func (s *codecSuite) TestEncodeWireFields(c *gc.C) {
	data, err := snapshot.Encode(s.snapshot(c))
	c.Assert(err, jc.ErrorIsNil)
	text := string(data)
	c.Check(text, jc.Contains, `"format-version": "1.0.0"`)
	c.Check(text, jc.Contains, `"timestamp": "2025-06-01T12:00:00Z"`)
	c.Check(text, jc.Contains, `"account-id": "123456789012"`)
	c.Check(text, jc.Contains, `"source-id": "subnet-1"`)
	c.Check(text, jc.Contains, `"relation": "contains"`)
	c.Check(text, jc.Contains, `"external": true`)
	c.Check(strings.HasSuffix(text, "\n"), jc.IsTrue)
}

func (s *codecSuite) TestDecodeRejectsUnknownMajorVersion(c *gc.C) {
	data, err := snapshot.Encode(s.snapshot(c))
	c.Assert(err, jc.ErrorIsNil)
	mangled := strings.Replace(string(data), `"format-version": "1.0.0"`, `"format-version": "99.0.0"`, 1)

	_, err = snapshot.Decode([]byte(mangled))
	c.Assert(err, jc.ErrorIs, snapshot.ErrUnsupportedFormat)
}

func (s *codecSuite) TestDecodeRejectsUnparseableVersion(c *gc.C) {
	data, err := snapshot.Encode(s.snapshot(c))
	c.Assert(err, jc.ErrorIsNil)
	mangled := strings.Replace(string(data), `"format-version": "1.0.0"`, `"format-version": "not-a-version"`, 1)

	_, err = snapshot.Decode([]byte(mangled))
	c.Assert(err, jc.ErrorIs, snapshot.ErrUnsupportedFormat)
}

func (s *codecSuite) TestDecodeAcceptsNewerMinorVersion(c *gc.C) {
	data, err := snapshot.Encode(s.snapshot(c))
	c.Assert(err, jc.ErrorIsNil)
	mangled := strings.Replace(string(data), `"format-version": "1.0.0"`, `"format-version": "1.7.0"`, 1)

	snap, err := snapshot.Decode([]byte(mangled))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(snap.FormatVersion.String(), gc.Equals, "1.7.0")
}

func (s *codecSuite) TestDecodeRejectsUnknownKind(c *gc.C) {
	data, err := snapshot.Encode(s.snapshot(c))
	c.Assert(err, jc.ErrorIsNil)
	mangled := strings.Replace(string(data), `"kind": "subnet"`, `"kind": "flow-log"`, 1)

	_, err = snapshot.Decode([]byte(mangled))
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *codecSuite) TestDecodeValidatesGraphs(c *gc.C) {
	doc := `
format-version: 1.0.0
timestamp: "2025-06-01T12:00:00Z"
region: eu-west-1
account-id: "123456789012"
graphs:
- vpc-id: vpc-1
  nodes:
  - kind: vpc
    source-id: vpc-1
  - kind: subnet
    source-id: subnet-1
  edges: []
`
	_, err := snapshot.Decode([]byte(doc))
	c.Assert(err, gc.ErrorMatches, `.*node "subnet-1" without an owner.*`)
}

func (s *codecSuite) TestEncodeRejectsInvalidSnapshot(c *gc.C) {
	snap := s.snapshot(c)
	snap.Region = ""
	_, err := snapshot.Encode(snap)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *codecSuite) TestGraphLookup(c *gc.C) {
	snap := s.snapshot(c)
	g, err := snap.Graph("vpc-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(g.VPCID, gc.Equals, "vpc-1")
	_, err = snap.Graph("vpc-2")
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}
