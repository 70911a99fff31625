package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/podkeeper/episode_downloader/internal/constraint"
	"github.com/podkeeper/episode_downloader/internal/logctx"
)

// Scheduler runs unique, tagged, constraint-gated background work on a
// bounded worker pool. Work is identified by name: at most one live record
// exists per name, and re-enqueueing under the same name is resolved by an
// ExistingWorkPolicy. Pending records are dispatched in enqueue order as
// soon as their constraints are satisfied and a worker slot is free.
type Scheduler struct {
	maxParallel int
	backoffBase time.Duration

	mu          sync.Mutex
	records     map[string]*workRecord
	seq         uint64
	running     int
	snapshot    constraint.Snapshot
	hasSnapshot bool
	watchers    map[int]*watcher
	nextWatcher int

	wake chan struct{}
}

type watcher struct {
	tag string
	out chan []Record
}

// New builds a scheduler dispatching at most maxParallel records at once and
// retrying with exponential backoff starting at backoffBase.
func New(maxParallel int, backoffBase time.Duration) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	if backoffBase <= 0 {
		backoffBase = 10 * time.Second
	}

	return &Scheduler{
		maxParallel: maxParallel,
		backoffBase: backoffBase,
		records:     map[string]*workRecord{},
		watchers:    map[int]*watcher{},
		wake:        make(chan struct{}, 1),
	}
}

// Run dispatches work until the context is cancelled, folding in constraint
// snapshots from the given stream as they arrive. Running work receives a
// context derived from ctx, so cancelling ctx stops everything in flight.
func (s *Scheduler) Run(ctx context.Context, constraints <-chan constraint.Snapshot) {
	logger := logctx.LoggerFromContext(ctx)
	logger.Debug("work scheduler started", "max_parallel", s.maxParallel)

	for {
		s.dispatch(ctx)

		select {
		case snapshot, ok := <-constraints:
			if !ok {
				constraints = nil

				continue
			}

			s.updateSnapshot(ctx, snapshot)
		case <-s.wake:
		case <-ctx.Done():
			logger.Debug("work scheduler stopped")

			return
		}
	}
}

// EnqueueUnique schedules the request under its name, resolving collisions
// with a live record via the policy. It returns the id of the record that
// owns the name afterwards and whether a new record was created.
func (s *Scheduler) EnqueueUnique(req Request, policy ExistingWorkPolicy) (string, bool) {
	s.mu.Lock()

	existing, ok := s.records[req.Name]
	if ok && !existing.state.IsTerminal() {
		if policy == Keep {
			id := existing.id
			s.mu.Unlock()

			return id, false
		}

		s.cancelLocked(existing)
	}

	s.seq++

	rec := &workRecord{
		id:          generateWorkID(),
		name:        req.Name,
		tags:        slices.Clone(req.Tags),
		constraints: req.Constraints,
		run:         req.Run,
		state:       StatePending,
		seq:         s.seq,
		wasEligible: s.eligibleLocked(req.Constraints),
	}
	s.records[req.Name] = rec

	s.publishLocked()
	s.mu.Unlock()

	s.wakeUp()

	return rec.id, true
}

// CancelByName cancels the live record enqueued under the given name, if any.
// Terminal records are unaffected.
func (s *Scheduler) CancelByName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok || rec.state.IsTerminal() {
		return
	}

	s.cancelLocked(rec)
	s.publishLocked()
}

// CancelByTag cancels every live record carrying the given tag.
func (s *Scheduler) CancelByTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := false

	for _, rec := range s.records {
		if rec.state.IsTerminal() || !slices.Contains(rec.tags, tag) {
			continue
		}

		s.cancelLocked(rec)

		cancelled = true
	}

	if cancelled {
		s.publishLocked()
	}
}

// Records returns a snapshot of every record carrying the given tag, in
// enqueue order. Terminal records are included until their name is reused.
func (s *Scheduler) Records(tag string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recordsLocked(tag)
}

// HasLiveWork reports whether any non-terminal record carries the given tag.
func (s *Scheduler) HasLiveWork(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.records {
		if !rec.state.IsTerminal() && slices.Contains(rec.tags, tag) {
			return true
		}
	}

	return false
}

// Watch streams snapshots of the records carrying the given tag, emitting
// the current snapshot immediately and again after every change. Slow
// consumers are conflated to the latest snapshot. The stream closes when the
// context is cancelled.
func (s *Scheduler) Watch(ctx context.Context, tag string) <-chan []Record {
	out := make(chan []Record, 1)

	s.mu.Lock()
	s.nextWatcher++
	id := s.nextWatcher
	s.watchers[id] = &watcher{tag: tag, out: out}
	out <- s.recordsLocked(tag)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()

		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()

	return out
}

func (s *Scheduler) recordsLocked(tag string) []Record {
	recs := make([]*workRecord, 0, len(s.records))

	for _, rec := range s.records {
		if slices.Contains(rec.tags, tag) {
			recs = append(recs, rec)
		}
	}

	slices.SortFunc(recs, func(a, b *workRecord) int {
		return int(a.seq) - int(b.seq)
	})

	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}

	return out
}

// cancelLocked marks a live record cancelled. Pending records are finalized
// immediately; running ones get their context cancelled and are finalized
// when the work func returns.
func (s *Scheduler) cancelLocked(rec *workRecord) {
	switch rec.state {
	case StatePending:
		rec.state = StateCancelled
	case StateRunning:
		rec.cancelRequested = true

		if rec.cancel != nil {
			rec.cancel()
		}
	}
}

// updateSnapshot folds in a new constraint snapshot. A pending record whose
// constraints flip from satisfied to unsatisfied is treated as rescheduled,
// which increments its run attempt count even though no run occurred.
func (s *Scheduler) updateSnapshot(ctx context.Context, snapshot constraint.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snapshot
	s.hasSnapshot = true

	changed := false

	for _, rec := range s.records {
		if rec.state != StatePending {
			continue
		}

		eligible := rec.constraints.SatisfiedBy(snapshot)
		if rec.wasEligible && !eligible {
			rec.runAttemptCount++
			changed = true
		}

		rec.wasEligible = eligible
	}

	logctx.LoggerFromContext(ctx).Debug("constraint snapshot applied",
		"network", snapshot.NetworkAvailable,
		"unmetered", snapshot.UnmeteredAvailable,
		"power", snapshot.PowerAvailable,
		"storage", snapshot.StorageAvailable,
	)

	if changed {
		s.publishLocked()
	}
}

// dispatch starts as many eligible pending records as worker slots allow.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running >= s.maxParallel {
		return
	}

	now := time.Now()

	pending := make([]*workRecord, 0, len(s.records))

	for _, rec := range s.records {
		if rec.state != StatePending {
			continue
		}

		if !rec.nextRunAt.IsZero() && rec.nextRunAt.After(now) {
			continue
		}

		// Gated work waits for the first snapshot rather than assuming
		// its constraints hold.
		if !s.hasSnapshot && rec.constraints != (Constraints{}) {
			continue
		}

		if s.hasSnapshot && !rec.constraints.SatisfiedBy(s.snapshot) {
			continue
		}

		pending = append(pending, rec)
	}

	slices.SortFunc(pending, func(a, b *workRecord) int {
		return int(a.seq) - int(b.seq)
	})

	started := false

	for _, rec := range pending {
		if s.running >= s.maxParallel {
			break
		}

		runCtx, cancel := context.WithCancel(ctx)

		rec.state = StateRunning
		rec.executing = false
		rec.cancel = cancel
		s.running++
		started = true

		go s.runWork(runCtx, rec)
	}

	if started {
		s.publishLocked()
	}
}

func (s *Scheduler) runWork(ctx context.Context, rec *workRecord) {
	handle := &Work{scheduler: s, record: rec, attempt: rec.runAttemptCount}

	outcome := s.safeRun(ctx, rec, handle)

	s.mu.Lock()

	s.running--
	rec.executing = false

	if rec.cancel != nil {
		rec.cancel()
		rec.cancel = nil
	}

	switch {
	case rec.cancelRequested:
		rec.state = StateCancelled
	case outcome.kind == outcomeSuccess:
		rec.state = StateSucceeded
		rec.output = outcome.output
	case outcome.kind == outcomeRetry:
		rec.runAttemptCount++
		rec.state = StatePending
		rec.nextRunAt = time.Now().Add(s.backoffFor(rec.runAttemptCount))
		rec.wasEligible = s.eligibleLocked(rec.constraints)

		time.AfterFunc(time.Until(rec.nextRunAt), s.wakeUp)
	default:
		rec.state = StateFailed
		rec.output = outcome.output
	}

	s.publishLocked()
	s.mu.Unlock()

	s.wakeUp()
}

// safeRun shields the scheduler from panicking work funcs.
func (s *Scheduler) safeRun(ctx context.Context, rec *workRecord, handle *Work) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).Error("work func panicked",
				"work_name", rec.name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)

			outcome = Failure(Output{"error_message": fmt.Sprintf("panic: %v", r)})
		}
	}()

	return rec.run(ctx, handle)
}

func (s *Scheduler) backoffFor(attempt int) time.Duration {
	backoff := s.backoffBase

	for i := 1; i < attempt; i++ {
		backoff *= 2

		if backoff > 5*time.Minute {
			return 5 * time.Minute
		}
	}

	return backoff
}

func (s *Scheduler) eligibleLocked(c Constraints) bool {
	if !s.hasSnapshot {
		return true
	}

	return c.SatisfiedBy(s.snapshot)
}

func (s *Scheduler) setExecuting(rec *workRecord, executing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.state != StateRunning {
		return
	}

	rec.executing = executing
	s.publishLocked()
}

// publishLocked pushes a fresh snapshot to every watcher, replacing any
// undelivered one.
func (s *Scheduler) publishLocked() {
	for _, w := range s.watchers {
		snapshot := s.recordsLocked(w.tag)

		select {
		case w.out <- snapshot:
		default:
			select {
			case <-w.out:
			default:
			}

			select {
			case w.out <- snapshot:
			default:
			}
		}
	}
}

func (s *Scheduler) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
