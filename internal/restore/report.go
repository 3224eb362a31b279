// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package restore

import (
	"github.com/juju/vpchron/core/resource"
	"github.com/juju/vpchron/internal/plan"
)

// StepStatus is the terminal state of one restoration step.
type StepStatus string

const (
	// StatusCompleted means the step's control-plane call succeeded
	// in this run.
	StatusCompleted StepStatus = "completed"

	// StatusSkipped means a previous run with the same run id already
	// completed the step; its result was reused.
	StatusSkipped StepStatus = "skipped"

	// StatusFailed means the step failed after exhausting any
	// retries.
	StatusFailed StepStatus = "failed"

	// StatusNotAttempted means the step was never dispatched, because
	// an earlier step failed fatally or the run was cancelled.
	StatusNotAttempted StepStatus = "not-attempted"
)

// StepResult is the outcome of one step, carrying enough identifying
// context to resume or fix up by hand.
type StepResult struct {
	Op       plan.Op
	Kind     resource.Kind
	SourceID string
	NewID    string
	Status   StepStatus
	Error    string
}

// Report accounts for every step of one VPC graph's restoration.
type Report struct {
	RunID   string
	VPCID   string
	Results []StepResult
}

// Succeeded reports whether every step reached completed or skipped.
func (r *Report) Succeeded() bool {
	for _, res := range r.Results {
		if res.Status != StatusCompleted && res.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// Counts returns the number of steps per terminal status.
func (r *Report) Counts() map[StepStatus]int {
	counts := make(map[StepStatus]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}
