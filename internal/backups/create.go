// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/vpchron/core/snapshot"
	"github.com/juju/vpchron/internal/topology"
)

// Create captures the topology of every VPC in scope (or just vpcID
// when non-empty), stores the snapshot, and returns it with its
// backup id. A capture that fails for any VPC stores nothing: backup
// is all-or-nothing.
func (b *Backups) Create(ctx context.Context, vpcID string) (*snapshot.Snapshot, string, error) {
	reader, err := topology.NewReader(topology.Config{
		ControlPlane: b.cfg.ControlPlane,
		Concurrency:  b.cfg.Concurrency,
	})
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	graphs, err := reader.ReadAll(ctx, vpcID)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	if len(graphs) == 0 {
		return nil, "", errors.NotFoundf("VPCs in %s", b.cfg.Region)
	}

	snap := snapshot.New(b.cfg.Region, b.cfg.AccountID, b.cfg.Clock.Now())
	snap.Graphs = graphs
	id := snap.Timestamp.Format(timestampFormat)

	jsonData, err := snapshot.Encode(snap)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	yamlData, err := snapshot.EncodeYAML(snap)
	if err != nil {
		return nil, "", errors.Trace(err)
	}
	if err := b.cfg.Store.PutObject(ctx, b.backupKey(id, snapshotJSON), jsonData); err != nil {
		return nil, "", errors.Annotatef(err, "storing backup %q", id)
	}
	if err := b.cfg.Store.PutObject(ctx, b.backupKey(id, snapshotYAML), yamlData); err != nil {
		return nil, "", errors.Annotatef(err, "storing backup %q", id)
	}
	logger.Infof("stored backup %s with %d VPC graphs", id, len(snap.Graphs))
	return snap, id, nil
}
