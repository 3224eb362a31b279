// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"time"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

const listDoc = `
List the snapshots stored for the current account and region, newest
first.

Examples:

    vpchron list --bucket my-backups
    vpchron list --bucket my-backups --format yaml
`

func newListCommand() cmd.Command {
	return &listCommand{}
}

type listCommand struct {
	backupsCommandBase
	out cmd.Output
}

func (c *listCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "list",
		Purpose: "list stored snapshots",
		Doc:     listDoc,
	}
}

func (c *listCommand) SetFlags(f *gnuflag.FlagSet) {
	c.backupsCommandBase.setFlags(f)
	c.out.AddFlags(f, "smart", cmd.DefaultFormatters.Formatters())
}

func (c *listCommand) Init(args []string) error {
	if err := c.validate(); err != nil {
		return errors.Trace(err)
	}
	return cmd.CheckEmpty(args)
}

type backupEntry struct {
	ID      string `json:"id" yaml:"id"`
	Started string `json:"started" yaml:"started"`
}

func (c *listCommand) Run(ctx *cmd.Context) error {
	runCtx, done := interruptible(ctx)
	defer done()
	engine, err := c.open(runCtx)
	if err != nil {
		return errors.Trace(err)
	}
	metas, err := engine.List(runCtx)
	if err != nil {
		return errors.Trace(err)
	}
	if c.out.Name() == "smart" {
		ids := make([]string, len(metas))
		for i, meta := range metas {
			ids[i] = meta.ID
		}
		return c.out.Write(ctx, ids)
	}
	entries := make([]backupEntry, len(metas))
	for i, meta := range metas {
		entries[i] = backupEntry{
			ID:      meta.ID,
			Started: meta.Started.Format(time.RFC3339),
		}
	}
	return c.out.Write(ctx, entries)
}
