// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"
)

var doc = `
vpchron captures the topology of AWS VPCs into versioned snapshots and
restores them in dependency order.

A backup walks every resource in the VPC (subnets, route tables,
gateways, security groups, network ACLs, peering connections and the
rest), records the ownership and reference relationships between them,
and stores the result as a snapshot in an S3 bucket. A restore replays
a snapshot into an account, creating resources in an order that
respects those relationships and retrying transient control plane
failures along the way.
`

// NewSuperCommand returns the top level vpchron command.
func NewSuperCommand() *cmd.SuperCommand {
	vpchron := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "vpchron",
		Doc:     doc,
		Purpose: "back up and restore AWS VPC topologies",
		Log:     &cmd.Log{},
	})
	vpchron.Register(newBackupCommand())
	vpchron.Register(newRestoreCommand())
	vpchron.Register(newListCommand())
	return vpchron
}

func main() {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(cmd.Main(NewSuperCommand(), ctx, os.Args[1:]))
}
