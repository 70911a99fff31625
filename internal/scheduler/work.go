package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"slices"
	"time"

	"github.com/podkeeper/episode_downloader/internal/constraint"
)

// State is the scheduling state of one work record.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state ends the work's lifecycle.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Constraints gate when pending work may be dispatched to a worker.
type Constraints struct {
	RequiresNetwork          bool
	RequiresUnmeteredNetwork bool
	RequiresPower            bool
	RequiresStorageNotLow    bool
}

// SatisfiedBy reports whether the constraints hold under the given snapshot.
func (c Constraints) SatisfiedBy(snap constraint.Snapshot) bool {
	if c.RequiresNetwork && !snap.NetworkAvailable {
		return false
	}

	if c.RequiresUnmeteredNetwork && !snap.UnmeteredAvailable {
		return false
	}

	if c.RequiresPower && !snap.PowerAvailable {
		return false
	}

	if c.RequiresStorageNotLow && !snap.StorageAvailable {
		return false
	}

	return true
}

// ExistingWorkPolicy decides what happens when unique work is enqueued under
// a name that already has a live record.
type ExistingWorkPolicy int

const (
	// Keep leaves the existing record in place and drops the new request.
	Keep ExistingWorkPolicy = iota
	// Replace cancels the existing record and schedules the new request
	// with a fresh attempt count.
	Replace
)

// Output carries string key/values from a finished work func back to
// observers of the record stream.
type Output map[string]string

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeFailure
	outcomeRetry
)

// Outcome is the result a WorkFunc reports to the scheduler.
type Outcome struct {
	kind   outcomeKind
	output Output
}

// Success marks the work finished, publishing the given output.
func Success(output Output) Outcome {
	return Outcome{kind: outcomeSuccess, output: output}
}

// Failure marks the work permanently failed, publishing the given output.
func Failure(output Output) Outcome {
	return Outcome{kind: outcomeFailure, output: output}
}

// Retry re-queues the work after a backoff delay, incrementing its run
// attempt count.
func Retry() Outcome {
	return Outcome{kind: outcomeRetry}
}

// WorkFunc is the body of a unit of work. It must run to completion on the
// worker goroutine given to it: the scheduler treats its return as the sole
// signal of job completion. The context is cancelled when the work is
// cancelled or the scheduler shuts down.
type WorkFunc func(ctx context.Context, work *Work) Outcome

// Request describes a unit of work to enqueue.
type Request struct {
	Name        string
	Tags        []string
	Constraints Constraints
	Run         WorkFunc
}

// Record is an immutable snapshot of one work record's scheduler state.
type Record struct {
	ID              string
	Name            string
	Tags            []string
	Constraints     Constraints
	State           State
	RunAttemptCount int
	// Executing distinguishes "a worker goroutine picked the record up"
	// from "the work func has actually started running"; a Running record
	// that is not executing still counts as pending for status purposes.
	Executing bool
	Output    Output
}

// HasTag reports whether the record carries the given tag.
func (r Record) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// Work is the handle a WorkFunc uses to interact with its own record.
type Work struct {
	scheduler *Scheduler
	record    *workRecord
	attempt   int
}

// ID returns the record's unique id.
func (w *Work) ID() string {
	return w.record.id
}

// Name returns the unique-work name.
func (w *Work) Name() string {
	return w.record.name
}

// RunAttemptCount returns the attempt count this run started with.
func (w *Work) RunAttemptCount() int {
	return w.attempt
}

// SetExecuting flips the record's executing flag and publishes the change.
func (w *Work) SetExecuting(executing bool) {
	w.scheduler.setExecuting(w.record, executing)
}

// workRecord is the scheduler's internal mutable bookkeeping entry.
// All fields are guarded by the scheduler mutex.
type workRecord struct {
	id          string
	name        string
	tags        []string
	constraints Constraints
	run         WorkFunc

	state           State
	runAttemptCount int
	executing       bool
	output          Output

	seq             uint64
	nextRunAt       time.Time
	wasEligible     bool
	cancelRequested bool
	cancel          context.CancelFunc
}

func (r *workRecord) snapshot() Record {
	return Record{
		ID:              r.id,
		Name:            r.name,
		Tags:            slices.Clone(r.tags),
		Constraints:     r.constraints,
		State:           r.state,
		RunAttemptCount: r.runAttemptCount,
		Executing:       r.executing,
		Output:          r.output,
	}
}

// generateWorkID returns a unique id for a work record.
func generateWorkID() string {
	raw := make([]byte, 8)
	_, _ = rand.Read(raw)

	return hex.EncodeToString(raw)
}
