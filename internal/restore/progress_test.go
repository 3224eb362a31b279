// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package restore_test

import (
	"context"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/vpchron/internal/restore"
	"github.com/juju/vpchron/internal/storage"
)

type progressSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&progressSuite{})

func (s *progressSuite) TestMemoryStore(c *gc.C) {
	store := restore.NewMemoryProgressStore()
	ctx := context.Background()

	_, ok, err := store.Lookup(ctx, "run-1", "vpc-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsFalse)

	c.Assert(store.Record(ctx, "run-1", "vpc-1", "vpc-new"), jc.ErrorIsNil)

	newID, ok, err := store.Lookup(ctx, "run-1", "vpc-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	c.Assert(newID, gc.Equals, "vpc-new")

	// Records are scoped by run id.
	_, ok, err = store.Lookup(ctx, "run-2", "vpc-1")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsFalse)
}

func (s *progressSuite) TestObjectStoreProgress(c *gc.C) {
	session := storage.NewMemorySession()
	store := restore.NewObjectStoreProgress(session)
	ctx := context.Background()

	_, ok, err := store.Lookup(ctx, "run-1", "subnet-1/references")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsFalse)

	c.Assert(store.Record(ctx, "run-1", "subnet-1/references", "subnet-new"), jc.ErrorIsNil)

	newID, ok, err := store.Lookup(ctx, "run-1", "subnet-1/references")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	c.Assert(newID, gc.Equals, "subnet-new")

	// The record is an object under the progress prefix, so it
	// survives in the same bucket as the snapshots.
	keys, err := session.ListObjects(ctx, "vpc-restore-progress/run-1/")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(keys, jc.DeepEquals, []string{"vpc-restore-progress/run-1/subnet-1/references"})
}
