// Package quest implements the hierarchical, cancellable, progress
// reporting task scheduler of spec §4.2: a process-wide registry of
// Quests identified by a stable QuestId, run on a bounded pool, where a
// parent quest awaits its children via structured concurrency instead of
// raw goroutine handles. Grounded on the teacher's pkg/scheduler (ticker
// loop + registry-under-mutex shape) generalized from periodic
// reconciliation to one-shot cancellable jobs, and on golang.org/x/sync's
// errgroup/semaphore, the same dependency the teacher itself lists and
// the pack's other repos (e.g. sandia-minimega's phenix vm API) use for
// fan-out-and-await task trees.
package quest

import (
	"context"
	"sync"
	"time"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Status is a quest's position in the state machine of spec §4.2.
type Status string

const (
	Pending    Status = "pending"
	Queued     Status = "queued"
	Running    Status = "running"
	Successful Status = "successful"
	Failed     Status = "failed"
	Cancelled  Status = "cancelled"
)

// Terminal reports whether s is one of the sticky terminal states.
func (s Status) Terminal() bool {
	return s == Successful || s == Failed || s == Cancelled
}

// Progress is an optional (current, total) pair a task reports.
type Progress struct {
	Current uint64
	Total   uint64
}

// Quest is an immutable snapshot of a scheduled task's state, returned by
// Get and List. Mutating the live record never mutates a snapshot already
// handed out.
type Quest struct {
	ID          uint64
	Description string
	Status      Status
	Progress    *Progress
	Children    []uint64
	Result      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// record is the registry's mutable bookkeeping for one quest, guarded by
// Registry.mu. cancel belongs to the registry, not to whatever context a
// caller happened to schedule the quest with: it is the only thing that
// ever closes a quest's ctx.Done() channel.
type record struct {
	quest     Quest
	cancelled bool
	cancel    context.CancelFunc
}

func (r *record) snapshot() Quest {
	q := r.quest
	if q.Progress != nil {
		p := *q.Progress
		q.Progress = &p
	}
	q.Children = append([]uint64(nil), q.Children...)
	return q
}

// Handle is given to a scheduled task's closure. It lets the task report
// progress, check for cooperative cancellation, spawn and await
// sub-quests, and fail explicitly.
type Handle struct {
	id  uint64
	reg *Registry
	ctx context.Context
}

// ID returns this quest's stable identifier.
func (h *Handle) ID() uint64 { return h.id }

// Cancelled reports whether cancellation has been requested for this
// quest or an ancestor. Long CPU loops must poll this periodically;
// cancellation is cooperative, never preemptive.
func (h *Handle) Cancelled() bool {
	select {
	case <-h.ctx.Done():
		return true
	default:
	}
	h.reg.mu.RLock()
	defer h.reg.mu.RUnlock()
	r, ok := h.reg.records[h.id]
	return ok && r.cancelled
}

// ProgressSet records a new (current, total) progress pair.
func (h *Handle) ProgressSet(current, total uint64) {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	if r, ok := h.reg.records[h.id]; ok {
		r.quest.Progress = &Progress{Current: current, Total: total}
	}
}

// ProgressTick increments the current progress counter by one, leaving
// total unchanged. A no-op if ProgressSet was never called.
func (h *Handle) ProgressTick() {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	if r, ok := h.reg.records[h.id]; ok && r.quest.Progress != nil {
		r.quest.Progress.Current++
	}
}

// Fail marks this quest Failed with reason, without returning from the
// task closure. Useful when a task wants to record a partial failure but
// continue cleanup.
func (h *Handle) Fail(reason string) {
	h.reg.finish(h.id, Failed, reason)
}

// SubQuest spawns a child quest, runs fn synchronously to completion (the
// structured-concurrency "parent awaits children" rule of spec §4.2), and
// returns its error. Cancelling the parent cancels the child too: Cancel
// walks the Children list recursively.
func (h *Handle) SubQuest(desc string, fn func(*Handle) error) error {
	childID, childCtx := h.reg.newChild(h.id, desc)
	child := &Handle{id: childID, reg: h.reg, ctx: childCtx}
	return h.reg.run(child, fn)
}

// Registry is the process-wide quest scheduler: a map of QuestId to
// record guarded by a mutex, a monotonic ID counter, and a bounded
// goroutine pool. Use Default() for the singleton spec §4.2 calls for;
// New is exposed for tests that need isolation.
type Registry struct {
	mu       sync.RWMutex
	records  map[uint64]*record
	nextID   uint64
	sem      *semaphore.Weighted
	retainFor time.Duration
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide quest registry, lazily initialized
// with a pool width of 64 and a 10 minute terminal-quest retention
// window.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New(64, 10*time.Minute)
	})
	return defaultReg
}

// New constructs a Registry with the given pool concurrency and how long
// a terminal quest is retained before GC sweeps it. poolWidth <= 0 means
// unbounded.
func New(poolWidth int, retainFor time.Duration) *Registry {
	var sem *semaphore.Weighted
	if poolWidth > 0 {
		sem = semaphore.NewWeighted(int64(poolWidth))
	}
	return &Registry{
		records:   make(map[uint64]*record),
		sem:       sem,
		retainFor: retainFor,
	}
}

func (r *Registry) allocateID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

func (r *Registry) newChild(parentID uint64, desc string) (uint64, context.Context) {
	id := r.allocateID()
	childCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.records[id] = &record{quest: Quest{ID: id, Description: desc, Status: Pending}, cancel: cancel}
	if parent, ok := r.records[parentID]; ok {
		parent.quest.Children = append(parent.quest.Children, id)
	}
	r.mu.Unlock()
	return id, childCtx
}

// ScheduleQuest enqueues fn on the pool under a freshly allocated QuestId,
// returning immediately with the ID. The quest runs and waits for a pool
// slot on a context the registry itself owns and cancels, never on the
// caller's ctx, so a caller whose own context is torn down the moment it
// gets the ID back (e.g. an HTTP handler returning its 202) never cancels
// work it merely kicked off. Cancel is the only way to stop a quest once
// scheduled; the ctx parameter is accepted for call-site symmetry with
// the rest of the API and may carry request-scoped values in the future,
// but it does not govern the quest's lifetime.
func (r *Registry) ScheduleQuest(ctx context.Context, desc string, fn func(*Handle) error) uint64 {
	id := r.allocateID()
	questCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.records[id] = &record{quest: Quest{ID: id, Description: desc, Status: Queued}, cancel: cancel}
	r.mu.Unlock()

	h := &Handle{id: id, reg: r, ctx: questCtx}
	go func() {
		if err := r.acquire(questCtx); err != nil {
			r.finish(id, Cancelled, "cancelled before scheduling")
			return
		}
		defer r.release()
		_ = r.run(h, fn)
	}()
	return id
}

// Result is the outcome handed back by ScheduleQuestWithResult's future.
type Result[T any] struct {
	Value T
	Err   error
}

// ScheduleQuestWithResult is ScheduleQuest's typed-result counterpart:
// the caller receives both the QuestId and a channel that receives
// exactly one Result once the quest reaches a terminal state.
func ScheduleQuestWithResult[T any](r *Registry, ctx context.Context, desc string, fn func(*Handle) (T, error)) (uint64, <-chan Result[T]) {
	id := r.allocateID()
	questCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.records[id] = &record{quest: Quest{ID: id, Description: desc, Status: Queued}, cancel: cancel}
	r.mu.Unlock()

	out := make(chan Result[T], 1)
	h := &Handle{id: id, reg: r, ctx: questCtx}
	go func() {
		if err := r.acquire(questCtx); err != nil {
			r.finish(id, Cancelled, "cancelled before scheduling")
			out <- Result[T]{Err: err}
			return
		}
		defer r.release()

		r.mu.Lock()
		if rec, ok := r.records[id]; ok {
			rec.quest.Status = Running
			rec.quest.StartedAt = time.Now()
		}
		r.mu.Unlock()

		value, err := fn(h)
		if h.Cancelled() {
			r.finish(id, Cancelled, "")
		} else if err != nil {
			r.finish(id, Failed, err.Error())
		} else {
			r.finish(id, Successful, "")
		}
		out <- Result[T]{Value: value, Err: err}
	}()
	return id, out
}

func (r *Registry) acquire(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	return r.sem.Acquire(ctx, 1)
}

func (r *Registry) release() {
	if r.sem != nil {
		r.sem.Release(1)
	}
}

// run transitions a quest through Running to a terminal state and
// recurses into its children via an errgroup, so a parent never reports
// done before every child it spawned has finished: the structured
// concurrency rule of spec §4.2.
func (r *Registry) run(h *Handle, fn func(*Handle) error) error {
	r.mu.Lock()
	if rec, ok := r.records[h.id]; ok {
		rec.quest.Status = Running
		rec.quest.StartedAt = time.Now()
	}
	r.mu.Unlock()

	group, _ := errgroup.WithContext(h.ctx)
	group.Go(func() error {
		return fn(h)
	})
	err := group.Wait()

	switch {
	case h.Cancelled():
		r.finish(h.id, Cancelled, "")
	case err != nil:
		r.finish(h.id, Failed, err.Error())
	default:
		r.finish(h.id, Successful, "")
	}
	return err
}

func (r *Registry) finish(id uint64, status Status, message string) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if rec.quest.Status.Terminal() {
		r.mu.Unlock()
		return
	}
	rec.quest.Status = status
	rec.quest.Result = message
	rec.quest.FinishedAt = time.Now()
	r.mu.Unlock()

	logger := log.WithQuestID(id)
	switch status {
	case Failed:
		logger.Warn().Str("status", string(status)).Msg("quest finished")
	default:
		logger.Debug().Str("status", string(status)).Msg("quest finished")
	}
}

// Get returns a snapshot of the quest with the given ID, or a
// apierr.KindNotFound error.
func (r *Registry) Get(id uint64) (Quest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Quest{}, apierr.Newf(apierr.KindNotFound, "no quest with id %d", id)
	}
	return rec.snapshot(), nil
}

// List returns a snapshot of every quest currently retained.
func (r *Registry) List() []Quest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Quest, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.snapshot())
	}
	return out
}

// Cancel marks the quest and every descendant already spawned as
// cancellation-requested. It does not block for them to observe it:
// cancellation is cooperative per spec §5.
func (r *Registry) Cancel(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apierr.Newf(apierr.KindNotFound, "no quest with id %d", id)
	}
	r.cancelLocked(rec)
	return nil
}

func (r *Registry) cancelLocked(rec *record) {
	if rec.quest.Status.Terminal() {
		return
	}
	rec.cancelled = true
	if rec.cancel != nil {
		rec.cancel()
	}
	for _, childID := range rec.quest.Children {
		if child, ok := r.records[childID]; ok {
			r.cancelLocked(child)
		}
	}
}

// GC removes terminal quests that finished more than the registry's
// retention window ago. The serve command calls it once a minute from a
// ticker loop, matching the teacher's ticker-driven reconciliation style.
func (r *Registry) GC(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, rec := range r.records {
		if rec.quest.Status.Terminal() && now.Sub(rec.quest.FinishedAt) > r.retainFor {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}
