// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"

	"github.com/juju/vpchron/internal/backups"
	ec2provider "github.com/juju/vpchron/internal/provider/ec2"
	"github.com/juju/vpchron/internal/storage"
)

var logger = loggo.GetLogger("vpchron.cmd")

// interruptible derives a context cancelled by an interrupt signal,
// so a ctrl+c mid restore leaves a resumable run behind rather than
// a half-finished step.
func interruptible(ctx *cmd.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(context.Background())
	interrupted := make(chan os.Signal, 1)
	ctx.InterruptNotify(interrupted)
	go func() {
		select {
		case <-interrupted:
			cancel()
		case <-runCtx.Done():
		}
	}()
	return runCtx, func() {
		ctx.StopInterruptNotify(interrupted)
		cancel()
	}
}

// backupsCommandBase carries the flags and wiring shared by every
// vpchron subcommand. Tests replace newBackups to avoid touching AWS.
type backupsCommandBase struct {
	cmd.CommandBase

	region      string
	profile     string
	bucket      string
	prefix      string
	concurrency int64

	newBackups func(ctx context.Context) (*backups.Backups, error)
}

func (c *backupsCommandBase) setFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.region, "region", "", "AWS region to operate in (defaults to the profile's region)")
	f.StringVar(&c.profile, "profile", "", "shared AWS config profile to use")
	f.StringVar(&c.bucket, "bucket", "", "S3 bucket holding the snapshots")
	f.StringVar(&c.prefix, "prefix", "vpc-backups", "key prefix for snapshots within the bucket")
	f.Int64Var(&c.concurrency, "concurrency", 0, "maximum concurrent control plane calls (0 for the default)")
}

func (c *backupsCommandBase) validate() error {
	if c.bucket == "" {
		return errors.NotValidf("missing --bucket")
	}
	return nil
}

// open builds a Backups engine against the real AWS control plane.
func (c *backupsCommandBase) open(ctx context.Context) (*backups.Backups, error) {
	if c.newBackups != nil {
		return c.newBackups(ctx)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if c.region != "" {
		opts = append(opts, awsconfig.WithRegion(c.region))
	}
	if c.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "loading AWS configuration")
	}
	if cfg.Region == "" {
		return nil, errors.NotValidf("no AWS region configured")
	}

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, errors.Annotate(err, "resolving caller identity")
	}
	logger.Debugf("operating as %s in %s", aws.ToString(identity.Account), cfg.Region)

	store, err := storage.NewS3Session(s3.NewFromConfig(cfg), c.bucket)
	if err != nil {
		return nil, errors.Trace(err)
	}
	provider, err := ec2provider.NewProvider(ec2.NewFromConfig(cfg))
	if err != nil {
		return nil, errors.Trace(err)
	}
	return backups.New(backups.Config{
		ControlPlane: provider,
		Store:        store,
		Clock:        clock.WallClock,
		Region:       cfg.Region,
		AccountID:    aws.ToString(identity.Account),
		Prefix:       c.prefix,
		Concurrency:  c.concurrency,
	})
}
