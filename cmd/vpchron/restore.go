// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/vpchron/internal/backups"
	"github.com/juju/vpchron/internal/restore"
)

const restoreDoc = `
Rebuild the VPC topology captured in a snapshot. Resources are created
in dependency order; owners before the resources they contain, then
cross references are attached. Existing resources tagged with the
snapshot's source ids are adopted rather than recreated.

A restore is resumable. Passing --run-id with the id of an earlier
interrupted run skips the steps that run already completed.

Examples:

    vpchron restore --bucket my-backups
    vpchron restore --bucket my-backups --snapshot 2025-06-01-12-00-00 --vpc-id vpc-0a1b2c3d
    vpchron restore --bucket my-backups --run-id 2fd2e5c6-0f3a-4c11-9347-6a1f9f7f8f21
`

func newRestoreCommand() cmd.Command {
	return &restoreCommand{}
}

type restoreCommand struct {
	backupsCommandBase
	out        cmd.Output
	snapshotID string
	vpcID      string
	runID      string
}

func (c *restoreCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "restore",
		Purpose: "rebuild VPC topology from a snapshot",
		Doc:     restoreDoc,
	}
}

func (c *restoreCommand) SetFlags(f *gnuflag.FlagSet) {
	c.backupsCommandBase.setFlags(f)
	f.StringVar(&c.snapshotID, "snapshot", "latest", "snapshot id to restore")
	f.StringVar(&c.vpcID, "vpc-id", "", "restore only this captured VPC")
	f.StringVar(&c.runID, "run-id", "", "resume an earlier restore run")
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters.Formatters())
}

func (c *restoreCommand) Init(args []string) error {
	if err := c.validate(); err != nil {
		return errors.Trace(err)
	}
	return cmd.CheckEmpty(args)
}

// restoreReport is the command's rendering of a restore result.
type restoreReport struct {
	RunID    string            `json:"run-id" yaml:"run-id"`
	Snapshot string            `json:"snapshot" yaml:"snapshot"`
	VPCs     []vpcReport       `json:"vpcs" yaml:"vpcs"`
	Counts   map[string]int    `json:"counts" yaml:"counts"`
	Failures []failureReport   `json:"failures,omitempty" yaml:"failures,omitempty"`
	Mappings map[string]string `json:"mappings" yaml:"mappings"`
}

type vpcReport struct {
	VPCID string `json:"vpc-id" yaml:"vpc-id"`
	Steps int    `json:"steps" yaml:"steps"`
}

type failureReport struct {
	VPCID    string `json:"vpc-id" yaml:"vpc-id"`
	Kind     string `json:"kind" yaml:"kind"`
	SourceID string `json:"source-id" yaml:"source-id"`
	Error    string `json:"error" yaml:"error"`
}

func (c *restoreCommand) Run(ctx *cmd.Context) error {
	runCtx, done := interruptible(ctx)
	defer done()
	engine, err := c.open(runCtx)
	if err != nil {
		return errors.Trace(err)
	}
	result, err := engine.Restore(runCtx, backups.RestoreArgs{
		SnapshotID: c.snapshotID,
		VPCID:      c.vpcID,
		RunID:      c.runID,
	})
	if result != nil {
		if werr := c.out.Write(ctx, formatRestoreResult(result)); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		return errors.Trace(err)
	}
	if !result.Succeeded() {
		return errors.Errorf("restore run %s incomplete; rerun with --run-id %s", result.RunID, result.RunID)
	}
	ctx.Infof("restore run %s complete", result.RunID)
	return nil
}

func formatRestoreResult(result *backups.RestoreResult) restoreReport {
	report := restoreReport{
		RunID:    result.RunID,
		Snapshot: result.SnapshotID,
		Counts:   make(map[string]int),
		Mappings: make(map[string]string),
	}
	for _, graph := range result.Reports {
		report.VPCs = append(report.VPCs, vpcReport{VPCID: graph.VPCID, Steps: len(graph.Results)})
		for _, step := range graph.Results {
			report.Counts[string(step.Status)]++
			if step.Status == restore.StatusFailed {
				report.Failures = append(report.Failures, failureReport{
					VPCID:    graph.VPCID,
					Kind:     step.Kind.String(),
					SourceID: step.SourceID,
					Error:    step.Error,
				})
			}
			if step.NewID != "" {
				report.Mappings[step.SourceID] = step.NewID
			}
		}
	}
	return report
}
