// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snapshot

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"gopkg.in/yaml.v2"

	"github.com/juju/vpchron/core/resource"
)

// ErrUnsupportedFormat is returned by Decode when the document's
// format version is unknown. No partial decode is attempted.
const ErrUnsupportedFormat = errors.ConstError("unsupported snapshot format")

// The wire document. Field order here is the field order on disk, and
// encoding/json writes map keys sorted, so encoded snapshots diff
// cleanly between runs.

type snapshotDoc struct {
	FormatVersion string     `json:"format-version" yaml:"format-version"`
	Timestamp     string     `json:"timestamp" yaml:"timestamp"`
	Region        string     `json:"region" yaml:"region"`
	AccountID     string     `json:"account-id" yaml:"account-id"`
	Graphs        []graphDoc `json:"graphs" yaml:"graphs"`
}

type graphDoc struct {
	VPCID string    `json:"vpc-id" yaml:"vpc-id"`
	Nodes []nodeDoc `json:"nodes" yaml:"nodes"`
	Edges []edgeDoc `json:"edges" yaml:"edges"`
}

// Attributes and tags are never omitted or nil on the wire: an empty
// map renders as an empty document so the round trip is exact.
type nodeDoc struct {
	Kind       string            `json:"kind" yaml:"kind"`
	SourceID   string            `json:"source-id" yaml:"source-id"`
	Attributes map[string]string `json:"attributes" yaml:"attributes"`
	Tags       map[string]string `json:"tags" yaml:"tags"`
}

type edgeDoc struct {
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	Relation string `json:"relation" yaml:"relation"`
	Attr     string `json:"attr,omitempty" yaml:"attr,omitempty"`
	External bool   `json:"external,omitempty" yaml:"external,omitempty"`
}

// Encode renders the snapshot as its canonical indented JSON document.
func Encode(s *Snapshot) ([]byte, error) {
	doc, err := newDoc(s)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return append(data, '\n'), nil
}

// EncodeYAML renders the snapshot as a YAML document carrying the same
// schema as Encode. Backups store both renderings; the YAML one exists
// for operators who want to eyeball a backup.
func EncodeYAML(s *Snapshot) ([]byte, error) {
	doc, err := newDoc(s)
	if err != nil {
		return nil, errors.Trace(err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// Decode parses a snapshot document, accepting either the JSON or the
// YAML rendering. Unknown format versions fail with
// ErrUnsupportedFormat before any graph is materialised.
func Decode(data []byte) (*Snapshot, error) {
	var doc snapshotDoc
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("{")) {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Annotate(err, "parsing snapshot document")
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.Annotate(err, "parsing snapshot document")
		}
	}

	ver, err := version.Parse(doc.FormatVersion)
	if err != nil || ver.Major != CurrentFormatVersion.Major {
		return nil, errors.WithType(
			errors.Errorf("snapshot format version %q", doc.FormatVersion),
			ErrUnsupportedFormat,
		)
	}

	s := &Snapshot{
		FormatVersion: ver,
		Region:        doc.Region,
		AccountID:     doc.AccountID,
	}
	s.Timestamp, err = time.Parse(time.RFC3339, doc.Timestamp)
	if err != nil {
		return nil, errors.Annotate(err, "parsing snapshot timestamp")
	}
	s.Timestamp = s.Timestamp.UTC()
	for _, g := range doc.Graphs {
		graph := resource.Graph{VPCID: g.VPCID}
		for _, n := range g.Nodes {
			kind, err := resource.ParseKind(n.Kind)
			if err != nil {
				return nil, errors.Trace(err)
			}
			graph.Nodes = append(graph.Nodes, resource.Node{
				Kind:       kind,
				SourceID:   n.SourceID,
				Attributes: orEmpty(n.Attributes),
				Tags:       orEmpty(n.Tags),
			})
		}
		for _, e := range g.Edges {
			graph.Edges = append(graph.Edges, resource.Edge{
				From:     e.From,
				To:       e.To,
				Relation: resource.Relation(e.Relation),
				Attr:     e.Attr,
				External: e.External,
			})
		}
		s.Graphs = append(s.Graphs, graph)
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

func newDoc(s *Snapshot) (*snapshotDoc, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	doc := &snapshotDoc{
		FormatVersion: s.FormatVersion.String(),
		Timestamp:     s.Timestamp.UTC().Format(time.RFC3339),
		Region:        s.Region,
		AccountID:     s.AccountID,
	}
	for _, g := range s.Graphs {
		gd := graphDoc{VPCID: g.VPCID}
		for _, n := range g.Nodes {
			gd.Nodes = append(gd.Nodes, nodeDoc{
				Kind:       string(n.Kind),
				SourceID:   n.SourceID,
				Attributes: orEmpty(n.Attributes),
				Tags:       orEmpty(n.Tags),
			})
		}
		for _, e := range g.Edges {
			gd.Edges = append(gd.Edges, edgeDoc{
				From:     e.From,
				To:       e.To,
				Relation: string(e.Relation),
				Attr:     e.Attr,
				External: e.External,
			})
		}
		doc.Graphs = append(doc.Graphs, gd)
	}
	return doc, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
