// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

const backupDoc = `
Capture the topology of one VPC, or of every VPC in the region, and
store it as a new snapshot in the configured bucket. The snapshot id
is printed on success.

Examples:

    vpchron backup --bucket my-backups --vpc-id vpc-0a1b2c3d
    vpchron backup --bucket my-backups --region eu-west-1
`

func newBackupCommand() cmd.Command {
	return &backupCommand{}
}

type backupCommand struct {
	backupsCommandBase
	vpcID string
}

func (c *backupCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "backup",
		Purpose: "capture VPC topology into a new snapshot",
		Doc:     backupDoc,
	}
}

func (c *backupCommand) SetFlags(f *gnuflag.FlagSet) {
	c.backupsCommandBase.setFlags(f)
	f.StringVar(&c.vpcID, "vpc-id", "", "capture only this VPC (default: every VPC in the region)")
}

func (c *backupCommand) Init(args []string) error {
	if err := c.validate(); err != nil {
		return errors.Trace(err)
	}
	return cmd.CheckEmpty(args)
}

func (c *backupCommand) Run(ctx *cmd.Context) error {
	runCtx, done := interruptible(ctx)
	defer done()
	engine, err := c.open(runCtx)
	if err != nil {
		return errors.Trace(err)
	}
	snap, id, err := engine.Create(runCtx, c.vpcID)
	if err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("captured %d VPC(s)", len(snap.Graphs))
	fmt.Fprintln(ctx.Stdout, id)
	return nil
}
