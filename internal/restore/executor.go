// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package restore executes a restoration plan against a control
// plane. Steps of the same tier run concurrently under a bounded
// worker pool; tiers are separated by a hard barrier. The engine is
// resumable: every completed step is recorded durably under the run
// id, and re-running with the same run id skips completed work
// instead of creating duplicates.
package restore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"
	"golang.org/x/sync/semaphore"

	"github.com/juju/vpchron/core/controlplane"
	"github.com/juju/vpchron/internal/plan"
)

var logger = loggo.GetLogger("vpchron.restore")

const (
	// TagRestoreRun marks a created resource with the run that made
	// it, so an interrupted run can recognise its own work.
	TagRestoreRun = "vpchron:restore-run"

	// TagSourceID marks a created resource with the capture-time id
	// of the resource it was restored from.
	TagSourceID = "vpchron:source-id"

	defaultConcurrency   = 4
	defaultRetryAttempts = 5
	defaultRetryDelay    = time.Second
	defaultRetryMaxDelay = 30 * time.Second
)

// ExecutorConfig holds the executor's dependencies and tuning.
type ExecutorConfig struct {
	ControlPlane controlplane.ControlPlane
	Progress     ProgressStore
	Clock        clock.Clock

	// Concurrency bounds the steps in flight within a tier. Zero
	// means the default.
	Concurrency int64

	// RetryAttempts bounds retries of transient control-plane
	// failures before a step is declared fatal. Zero means the
	// default.
	RetryAttempts int

	// RetryDelay and RetryMaxDelay shape the exponential backoff
	// between attempts. Zero means the defaults.
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// Validate ensures the config values are valid.
func (c ExecutorConfig) Validate() error {
	if c.ControlPlane == nil {
		return errors.NotValidf("missing ControlPlane")
	}
	if c.Progress == nil {
		return errors.NotValidf("missing Progress")
	}
	if c.Clock == nil {
		return errors.NotValidf("missing Clock")
	}
	if c.Concurrency < 0 {
		return errors.NotValidf("negative Concurrency")
	}
	return nil
}

// Executor walks restoration plans step by step.
type Executor struct {
	cfg ExecutorConfig
}

// NewExecutor returns an Executor for the given config.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	return &Executor{cfg: cfg}, nil
}

// Execute runs the plan. Step failures are accounted for in the
// returned report, never returned as an error; the error return is
// reserved for cancellation, in which case the report still reflects
// exactly what completed before the run stopped dispatching.
func (e *Executor) Execute(ctx context.Context, runID string, p *plan.Plan, remap *RemapTable) (*Report, error) {
	report := &Report{RunID: runID, VPCID: p.VPCID}
	report.Results = make([]StepResult, len(p.Steps))
	for i, step := range p.Steps {
		report.Results[i] = StepResult{
			Op:       step.Op,
			Kind:     step.Node.Kind,
			SourceID: step.Node.SourceID,
			Status:   StatusNotAttempted,
		}
	}

	sem := semaphore.NewWeighted(e.cfg.Concurrency)
	aborted := false
	for i := 0; i < len(p.Steps) && !aborted; {
		j := i
		for j < len(p.Steps) && p.Steps[j].Tier == p.Steps[i].Tier {
			j++
		}

		var wg sync.WaitGroup
		for k := i; k < j; k++ {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled. In-flight steps run to completion; the
				// rest of this tier stays not-attempted.
				aborted = true
				break
			}
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				defer sem.Release(1)
				report.Results[k] = e.runStep(ctx, runID, p.Steps[k], remap)
			}(k)
		}
		wg.Wait()

		for k := i; k < j; k++ {
			if report.Results[k].Status == StatusFailed {
				aborted = true
			}
		}
		i = j
	}
	if err := ctx.Err(); err != nil {
		return report, errors.Trace(err)
	}
	return report, nil
}

func (e *Executor) runStep(ctx context.Context, runID string, step plan.Step, remap *RemapTable) StepResult {
	result := StepResult{
		Op:       step.Op,
		Kind:     step.Node.Kind,
		SourceID: step.Node.SourceID,
	}
	var err error
	switch step.Op {
	case plan.OpCreateSkeleton:
		err = e.createSkeleton(ctx, runID, step, remap, &result)
	case plan.OpAttachReferences:
		err = e.attachReferences(ctx, runID, step, remap, &result)
	default:
		err = errors.NotSupportedf("step operation %q", step.Op)
	}
	if err != nil {
		logger.Errorf("%s %s %s: %v", step.Op, step.Node.Kind, step.Node.SourceID, err)
		result.Status = StatusFailed
		result.Error = err.Error()
	}
	return result
}

func (e *Executor) createSkeleton(ctx context.Context, runID string, step plan.Step, remap *RemapTable, result *StepResult) error {
	node := step.Node

	// A dispatched step runs to completion even if the run is
	// cancelled; cancellation only stops dispatch and backoff waits.
	opCtx := context.WithoutCancel(ctx)

	if newID, ok, err := e.cfg.Progress.Lookup(opCtx, runID, node.SourceID); err != nil {
		return errors.Annotate(err, "consulting progress store")
	} else if ok {
		logger.Debugf("%s %s already created as %s by this run; skipping", node.Kind, node.SourceID, newID)
		result.NewID = newID
		result.Status = StatusSkipped
		return errors.Trace(remap.Record(node.SourceID, newID))
	}

	runTags := map[string]string{
		TagRestoreRun: runID,
		TagSourceID:   node.SourceID,
	}
	if finder, ok := e.cfg.ControlPlane.(controlplane.TagFinder); ok {
		newID, err := finder.FindByTags(opCtx, node.Kind, runTags)
		if err == nil {
			logger.Infof("%s %s found in target as %s, tagged by run %s; adopting",
				node.Kind, node.SourceID, newID, runID)
			if err := remap.Record(node.SourceID, newID); err != nil {
				return errors.Trace(err)
			}
			result.NewID = newID
			result.Status = StatusSkipped
			return errors.Trace(e.cfg.Progress.Record(opCtx, runID, node.SourceID, newID))
		}
		if !errors.Is(err, errors.NotFound) {
			logger.Warningf("tag lookup for %s %s failed: %v", node.Kind, node.SourceID, err)
		}
	}

	// Structural attributes may name resources created earlier in the
	// run (an owner, a same-tier forward reference); translate any
	// identity already remapped.
	attrs := make(map[string]string, len(step.Attributes))
	for k, v := range step.Attributes {
		attrs[k] = remap.Translate(v)
	}
	tags := make(map[string]string, len(node.Tags)+len(runTags))
	for k, v := range node.Tags {
		// Provider-managed tags must not be replayed.
		if strings.HasPrefix(k, "aws:") {
			continue
		}
		tags[k] = v
	}
	for k, v := range runTags {
		tags[k] = v
	}

	var newID string
	err := e.callWithRetry(ctx, func() error {
		var err error
		newID, err = e.cfg.ControlPlane.CreateResource(opCtx, node.Kind, attrs, tags)
		return err
	})
	if err != nil {
		return errors.Annotatef(err, "creating %s from %s", node.Kind, node.SourceID)
	}
	if err := remap.Record(node.SourceID, newID); err != nil {
		return errors.Trace(err)
	}
	result.NewID = newID
	result.Status = StatusCompleted
	if controlplane.IsPendingID(newID) {
		// The control plane deferred the create until the attach
		// step, holding the creation attributes in process-local
		// state. Recording progress would make a resumed run skip
		// this step and attach against state that no longer exists;
		// the skeleton must replay instead.
		logger.Debugf("%s %s deferred as %s; progress not recorded", node.Kind, node.SourceID, newID)
		return nil
	}
	return errors.Annotate(
		e.cfg.Progress.Record(opCtx, runID, node.SourceID, newID),
		"recording progress",
	)
}

func (e *Executor) attachReferences(ctx context.Context, runID string, step plan.Step, remap *RemapTable, result *StepResult) error {
	node := step.Node
	stepKey := node.SourceID + "/references"
	opCtx := context.WithoutCancel(ctx)

	newID, ok := remap.Lookup(node.SourceID)
	if !ok {
		return errors.Errorf("no restored identity for %s %s", node.Kind, node.SourceID)
	}
	result.NewID = newID

	if _, done, err := e.cfg.Progress.Lookup(opCtx, runID, stepKey); err != nil {
		return errors.Annotate(err, "consulting progress store")
	} else if done {
		result.Status = StatusSkipped
		return nil
	}

	attrs := make(map[string]string, len(step.References))
	for _, edge := range step.References {
		if edge.External {
			// Outside the captured graph: pass through verbatim. It
			// is the operator's business that it still resolves.
			logger.Warningf("%s %s attribute %q kept as external reference %s",
				node.Kind, node.SourceID, edge.Attr, edge.To)
			attrs[edge.Attr] = edge.To
			continue
		}
		target, ok := remap.Lookup(edge.To)
		if !ok {
			return errors.Errorf("referenced node %s has no restored identity", edge.To)
		}
		attrs[edge.Attr] = target
	}

	// If this fails after the skeleton succeeded, the resource is
	// left valid but incomplete; the report says so and a resumed run
	// will retry just this step.
	err := e.callWithRetry(ctx, func() error {
		return e.cfg.ControlPlane.PatchResource(opCtx, node.Kind, newID, attrs)
	})
	if err != nil {
		return errors.Annotatef(err, "attaching references of %s %s", node.Kind, node.SourceID)
	}
	result.Status = StatusCompleted
	return errors.Annotate(
		e.cfg.Progress.Record(opCtx, runID, stepKey, newID),
		"recording progress",
	)
}

func (e *Executor) callWithRetry(ctx context.Context, f func() error) error {
	return retry.Call(retry.CallArgs{
		Func: f,
		IsFatalError: func(err error) bool {
			return !errors.Is(err, controlplane.ErrTransient)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("attempt %d: %v", attempt, err)
		},
		Attempts:    e.cfg.RetryAttempts,
		Delay:       e.cfg.RetryDelay,
		MaxDelay:    e.cfg.RetryMaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       e.cfg.Clock,
		Stop:        ctx.Done(),
	})
}
