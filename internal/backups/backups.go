// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package backups wires the capture and restore engines together
// behind the operator-facing operations: create a backup, list
// backups, restore one. It owns the storage key layout; everything
// else is delegated to the topology reader, the snapshot codec, the
// planner and the restore executor.
package backups

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/vpchron/core/controlplane"
	"github.com/juju/vpchron/core/objectstore"
	"github.com/juju/vpchron/core/snapshot"
)

var logger = loggo.GetLogger("vpchron.backups")

const (
	// DefaultPrefix roots every backup key in the object store.
	DefaultPrefix = "vpc-backups"

	// timestampFormat derives backup ids from capture time. It sorts
	// lexicographically in time order, which is what makes "latest"
	// a plain maximum over a key listing.
	timestampFormat = "2006-01-02-15-04-05"

	snapshotJSON = "snapshot.json"
	snapshotYAML = "snapshot.yaml"
)

// Config holds the dependencies of the backup operations.
type Config struct {
	ControlPlane controlplane.ControlPlane
	Store        objectstore.Session
	Clock        clock.Clock

	// Region and AccountID scope the storage keys, so backups from
	// different accounts and regions share a bucket without
	// colliding.
	Region    string
	AccountID string

	// Prefix overrides DefaultPrefix when set.
	Prefix string

	// Concurrency bounds concurrent control-plane calls for both the
	// reader and the restore executor. Zero means each side's
	// default.
	Concurrency int64
}

// Validate ensures the config values are valid.
func (c Config) Validate() error {
	if c.ControlPlane == nil {
		return errors.NotValidf("missing ControlPlane")
	}
	if c.Store == nil {
		return errors.NotValidf("missing Store")
	}
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.Region == "" {
		return errors.NotValidf("missing Region")
	}
	if c.AccountID == "" {
		return errors.NotValidf("missing AccountID")
	}
	return nil
}

// Backups exposes the backup, list and restore operations.
type Backups struct {
	cfg Config
}

// New returns a Backups for the given config.
func New(cfg Config) (*Backups, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Backups{cfg: cfg}, nil
}

// Metadata identifies one stored backup.
type Metadata struct {
	// ID is the backup's identifier, its capture timestamp rendered
	// as a storage key segment.
	ID string

	// Started is the capture time parsed back out of the ID.
	Started time.Time
}

func (b *Backups) scopePrefix() string {
	return b.cfg.Prefix + "/" + b.cfg.AccountID + "/" + b.cfg.Region + "/"
}

func (b *Backups) backupKey(id, name string) string {
	return b.scopePrefix() + id + "/" + name
}

// List returns the stored backups for this account and region, newest
// first.
func (b *Backups) List(ctx context.Context) ([]Metadata, error) {
	keys, err := b.cfg.Store.ListObjects(ctx, b.scopePrefix())
	if err != nil {
		return nil, errors.Annotate(err, "listing backups")
	}
	seen := make(map[string]bool)
	var metas []Metadata
	for _, key := range keys {
		rest := strings.TrimPrefix(key, b.scopePrefix())
		id, _, ok := strings.Cut(rest, "/")
		if !ok || seen[id] {
			continue
		}
		started, err := time.Parse(timestampFormat, id)
		if err != nil {
			continue
		}
		seen[id] = true
		metas = append(metas, Metadata{ID: id, Started: started.UTC()})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID > metas[j].ID })
	return metas, nil
}

// Load fetches and decodes a stored snapshot. An empty or "latest" id
// selects the most recent backup. The JSON rendering is preferred;
// the YAML one is a fallback for backups whose JSON object went
// missing.
func (b *Backups) Load(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	if id == "" || id == "latest" {
		metas, err := b.List(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if len(metas) == 0 {
			return nil, errors.NotFoundf("backups under %q", b.scopePrefix())
		}
		id = metas[0].ID
		logger.Infof("latest backup is %s", id)
	}
	data, err := b.cfg.Store.GetObject(ctx, b.backupKey(id, snapshotJSON))
	if errors.Is(err, errors.NotFound) {
		data, err = b.cfg.Store.GetObject(ctx, b.backupKey(id, snapshotYAML))
	}
	if err != nil {
		return nil, errors.Annotatef(err, "loading backup %q", id)
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, errors.Annotatef(err, "decoding backup %q", id)
	}
	return snap, nil
}
