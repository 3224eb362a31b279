// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backups

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/juju/vpchron/internal/plan"
	"github.com/juju/vpchron/internal/restore"
)

// RestoreArgs names what to restore and how to identify the run.
type RestoreArgs struct {
	// SnapshotID selects the backup; empty or "latest" selects the
	// newest one.
	SnapshotID string

	// VPCID restricts the restore to one captured VPC graph.
	VPCID string

	// RunID resumes a previous run when set. New runs get a fresh id.
	RunID string
}

// RestoreResult accounts for a whole restore run.
type RestoreResult struct {
	RunID      string
	SnapshotID string
	Reports    []*restore.Report
}

// Succeeded reports whether every graph restored completely.
func (r *RestoreResult) Succeeded() bool {
	for _, report := range r.Reports {
		if !report.Succeeded() {
			return false
		}
	}
	return true
}

// Restore loads a snapshot and rebuilds each contained VPC graph in
// dependency order. Restoration is purely additive; nothing in the
// target is ever deleted. A failure in one graph does not stop the
// others; the result accounts for every step of every graph.
func (b *Backups) Restore(ctx context.Context, args RestoreArgs) (*RestoreResult, error) {
	snap, err := b.Load(ctx, args.SnapshotID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	snapshotID := snap.Timestamp.Format(timestampFormat)

	graphs := snap.Graphs
	if args.VPCID != "" {
		graph, err := snap.Graph(args.VPCID)
		if err != nil {
			return nil, errors.Trace(err)
		}
		graphs = graphs[:0:0]
		graphs = append(graphs, *graph)
	}

	runID := args.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	executor, err := restore.NewExecutor(restore.ExecutorConfig{
		ControlPlane: b.cfg.ControlPlane,
		Progress:     restore.NewObjectStoreProgress(b.cfg.Store),
		Clock:        b.cfg.Clock,
		Concurrency:  b.cfg.Concurrency,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	result := &RestoreResult{RunID: runID, SnapshotID: snapshotID}
	remap := restore.NewRemapTable()
	for i := range graphs {
		graph := &graphs[i]
		logger.Infof("restoring VPC %s from backup %s (run %s)", graph.VPCID, snapshotID, runID)
		restorePlan, err := plan.Build(graph)
		if err != nil {
			return nil, errors.Annotatef(err, "planning restore of VPC %q", graph.VPCID)
		}
		report, err := executor.Execute(ctx, runID, restorePlan, remap)
		result.Reports = append(result.Reports, report)
		if err != nil {
			// Cancelled; what completed is already in the report.
			return result, errors.Trace(err)
		}
		if !report.Succeeded() {
			counts := report.Counts()
			logger.Errorf("restore of VPC %s incomplete: %d failed, %d not attempted",
				graph.VPCID, counts[restore.StatusFailed], counts[restore.StatusNotAttempted])
		}
	}
	return result, nil
}
