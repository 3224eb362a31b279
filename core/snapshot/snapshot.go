// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package snapshot defines the persisted form of a topology capture
// and the codec that moves it to and from its wire document. A
// snapshot is written once at backup time and is read-only ever after.
package snapshot

import (
	"time"

	"github.com/juju/errors"
	"github.com/juju/version/v2"

	"github.com/juju/vpchron/core/resource"
)

// CurrentFormatVersion is the schema version written by this codebase.
// Decode refuses documents whose major version differs.
var CurrentFormatVersion = version.MustParse("1.0.0")

// Snapshot is one backup run's capture: every VPC topology read in the
// same invocation, plus the metadata needed to locate and interpret it.
type Snapshot struct {
	// FormatVersion is the schema version of the wire document the
	// snapshot was read from or will be written as.
	FormatVersion version.Number

	// Timestamp records when the capture started. It also derives the
	// storage key, so "latest" is a lexicographic maximum.
	Timestamp time.Time

	// Region is the cloud region the capture was taken in.
	Region string

	// AccountID is the account the capture was taken from.
	AccountID string

	// Graphs holds one topology graph per captured VPC, in capture
	// order.
	Graphs []resource.Graph
}

// New returns a snapshot shell carrying the current schema version.
// Graphs are appended by the topology reader.
func New(region, accountID string, now time.Time) *Snapshot {
	return &Snapshot{
		FormatVersion: CurrentFormatVersion,
		Timestamp:     now.UTC().Truncate(time.Second),
		Region:        region,
		AccountID:     accountID,
	}
}

// Validate checks the snapshot and every contained graph.
func (s *Snapshot) Validate() error {
	if s.Timestamp.IsZero() {
		return errors.NotValidf("snapshot with zero timestamp")
	}
	if s.Region == "" {
		return errors.NotValidf("snapshot with empty region")
	}
	for i := range s.Graphs {
		if err := s.Graphs[i].Validate(); err != nil {
			return errors.Annotatef(err, "graph for VPC %q", s.Graphs[i].VPCID)
		}
	}
	return nil
}

// Graph returns the contained graph for the given VPC id.
func (s *Snapshot) Graph(vpcID string) (*resource.Graph, error) {
	for i := range s.Graphs {
		if s.Graphs[i].VPCID == vpcID {
			return &s.Graphs[i], nil
		}
	}
	return nil, errors.NotFoundf("VPC %q in snapshot", vpcID)
}
