// Package sched implements the runtime's M:N scheduler: a fixed-size
// worker thread pool draining a single global FIFO ready queue of fibers
// and plain callables, with optional per-task thread affinity (§4.2).
//
// The ready queue and its "tickle an idle worker on submit" contract are
// grounded on eventloop.ChunkedIngress and eventloop.Loop's wake-up
// accounting (loop.go, ingress.go) in the teacher corpus, generalized
// from a single goroutine's task queue to N worker goroutines pulling
// from one shared queue under a mutex — the design explicitly calls for
// a single mutex here (§5), so this package intentionally does not reach
// for the teacher's lock-free ring buffer, which exists to serve a
// single-consumer loop that this package's multi-consumer pool doesn't
// have.
//
// Package netpoll builds the I/O manager by embedding a Scheduler,
// overriding its Tickle and Idle extension points and, via package timer,
// hooking OnFrontInserted, in the spirit of the design's §9 "treat
// scheduler and io-manager as variants, not an inheritance spine" note.
// It keeps the default Stopping, so a stop does not wait for pending
// descriptor waits or armed timers.
package sched

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wyzrun/fiberd/fiber"
)

// AnyThread is the affinity value meaning "runnable on any worker".
const AnyThread = -1

// Task is a scheduler queue entry: either a fiber handle or a plain
// callable, plus an optional thread affinity.
type Task struct {
	Fiber    *fiber.Fiber
	Callable func()
	Affinity int
}

func (t Task) isEmpty() bool { return t.Fiber == nil && t.Callable == nil }

// Stats tracks scheduler activity, grounded on the JVM teacher's
// SchedulerStats (runtime/scheduler.go).
type Stats struct {
	FibersCreated   int64
	FibersCompleted int64
	ContextSwitches int64
	TotalYields     int64
}

// Scheduler is the M:N worker pool. The zero value is not usable; use
// New.
type Scheduler struct {
	name      string
	workerCnt int
	useCaller bool

	mu      sync.Mutex
	cond    *sync.Cond
	ready   []Task
	active  int32
	stopped bool
	stopReq bool

	workers      []*worker
	callerWorker *worker
	wg           sync.WaitGroup
	startOnce    sync.Once
	stopOnce     sync.Once

	fibersCreated   atomic.Int64
	fibersCompleted atomic.Int64
	ctxSwitches     atomic.Int64
	totalYields     atomic.Int64

	// Extension points. A plain Scheduler uses the defaults installed by
	// New; package netpoll's I/O manager overrides Tickle and Idle to fuse
	// in the readiness notifier and timer manager (§4.4) and leaves
	// Stopping at its default.
	Tickle   func()
	Idle     func(threadID int) (exit bool)
	Stopping func() bool
}

// New constructs a Scheduler with workerCount ≥ 1 worker threads. If
// useCaller, the constructing goroutine is expected to supply the last
// worker itself via RunCaller, and only workerCount-1 background
// goroutines are spawned by Start.
func New(workerCount int, useCaller bool, name string) *Scheduler {
	if workerCount < 1 {
		panic("sched: workerCount must be >= 1")
	}
	s := &Scheduler{name: name, workerCnt: workerCount, useCaller: useCaller}
	s.cond = sync.NewCond(&s.mu)
	s.Tickle = s.defaultTickle
	s.Idle = s.defaultIdle
	s.Stopping = s.defaultStopping
	return s
}

// Name returns the scheduler's cosmetic name.
func (s *Scheduler) Name() string { return s.name }

// Stats returns a snapshot of the scheduler's activity counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		FibersCreated:   s.fibersCreated.Load(),
		FibersCompleted: s.fibersCompleted.Load(),
		ContextSwitches: s.ctxSwitches.Load(),
		TotalYields:     s.totalYields.Load(),
	}
}

// ActiveCount returns the number of tasks currently being executed across
// all workers (a task is active from the moment it's popped until its
// resume call returns).
func (s *Scheduler) ActiveCount() int32 { return atomic.LoadInt32(&s.active) }

// QueueLen returns the current ready-queue length, for tests and
// diagnostics.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}

// Submit enqueues a single task in FIFO order. If the queue was empty, or
// the task targets a specific thread, Tickle is invoked to wake an idle
// worker (§4.2).
func (s *Scheduler) Submit(t Task) {
	if t.isEmpty() {
		panic("sched: Submit called with an empty task")
	}
	s.mu.Lock()
	wasEmpty := len(s.ready) == 0
	s.ready = append(s.ready, t)
	s.mu.Unlock()

	if wasEmpty || t.Affinity != AnyThread {
		s.Tickle()
	}
}

// SubmitBatch enqueues many tasks atomically under a single lock
// acquisition, calling Tickle at most once — grounded on the
// go-microbatch contract of batching many submissions into one downstream
// call (microbatch.Batcher.Submit), adapted here to "one wake-up instead
// of one per task" rather than "one processor call instead of one per
// job".
func (s *Scheduler) SubmitBatch(tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	s.mu.Lock()
	wasEmpty := len(s.ready) == 0
	needsTickle := wasEmpty
	for _, t := range tasks {
		if t.isEmpty() {
			s.mu.Unlock()
			panic("sched: SubmitBatch called with an empty task")
		}
		if t.Affinity != AnyThread {
			needsTickle = true
		}
	}
	s.ready = append(s.ready, tasks...)
	s.mu.Unlock()

	if needsTickle {
		s.Tickle()
	}
}

// Spawn is a convenience that creates a fiber from entry and submits it
// with AnyThread affinity, grounded on the JVM teacher's
// Scheduler.Spawn (runtime/scheduler.go).
func (s *Scheduler) Spawn(name string, entry fiber.Entry) *fiber.Fiber {
	f := fiber.New(name, entry, 0, false)
	s.fibersCreated.Add(1)
	s.Submit(Task{Fiber: f, Affinity: AnyThread})
	return f
}

// Start spawns the scheduler's background worker goroutines. If the
// scheduler was constructed with useCaller, one fewer goroutine is
// spawned and the constructing goroutine must call RunCaller itself to
// supply the last worker.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		spawn := s.workerCnt
		if s.useCaller {
			spawn--
		}
		// Every worker's run loop, including the caller-supplied one run
		// via RunCaller, calls wg.Done on exit, so the count must cover
		// workerCnt regardless of how many goroutines Start itself spawns.
		s.wg.Add(s.workerCnt)
		for i := 0; i < spawn; i++ {
			w := newWorker(s, i)
			s.workers = append(s.workers, w)
			go w.run()
		}
		if s.useCaller {
			w := newWorker(s, spawn)
			s.workers = append(s.workers, w)
			s.callerWorker = w
		}
	})
}

// RunCaller runs the last worker's dispatch loop on the calling goroutine,
// blocking until the scheduler stops. Only valid for a scheduler
// constructed with useCaller; calling it otherwise is a programmer error.
func (s *Scheduler) RunCaller() {
	if !s.useCaller || s.callerWorker == nil {
		panic("sched: RunCaller called on a scheduler without UseCaller")
	}
	s.callerWorker.run()
}

// Stop requests shutdown: the ready queue drains, every worker observes
// Stopping() and exits, and Stop blocks until all background workers
// (and, for a useCaller scheduler, the caller's own RunCaller call) have
// returned.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopReq = true
		s.mu.Unlock()
		s.cond.Broadcast()
	})
	s.wg.Wait()
}

func (s *Scheduler) defaultTickle() {
	s.cond.Broadcast()
}

func (s *Scheduler) defaultStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopReq && len(s.ready) == 0 && atomic.LoadInt32(&s.active) == 0
}

// defaultIdle blocks the calling worker until there is work, or the
// scheduler is stopping, whichever comes first.
func (s *Scheduler) defaultIdle(threadID int) bool {
	s.mu.Lock()
	for len(s.ready) == 0 && !s.stopReq {
		s.cond.Wait()
	}
	exit := s.stopReq && len(s.ready) == 0 && atomic.LoadInt32(&s.active) == 0
	s.mu.Unlock()
	return exit
}

// pop removes and returns the first eligible task for threadID, following
// the design's dispatch-loop scan: tasks pinned to a different thread are
// skipped (and flagged so the caller tickles other workers), and a fiber
// already EXEC elsewhere is skipped defensively.
func (s *Scheduler) pop(threadID int) (Task, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tickleOthers := false
	for i, t := range s.ready {
		if t.Affinity != AnyThread && t.Affinity != threadID {
			tickleOthers = true
			continue
		}
		if t.Fiber != nil && t.Fiber.State() == fiber.Exec {
			continue
		}
		s.ready = append(s.ready[:i:i], s.ready[i+1:]...)
		atomic.AddInt32(&s.active, 1)
		return t, tickleOthers, true
	}
	return Task{}, tickleOthers, false
}

// resubmit re-queues a fiber that yielded to Ready, preserving its
// original affinity so a fiber resumed by the hook layer on a specific
// thread (because its readiness registration is thread-specific) stays
// pinned across Ready/resume cycles.
func (s *Scheduler) resubmit(t Task) {
	s.mu.Lock()
	s.ready = append(s.ready, t)
	s.mu.Unlock()
	s.Tickle()
}

// worker is one dispatch-loop goroutine.
type worker struct {
	id        int
	scheduler *Scheduler
	reusable  *fiber.Fiber
}

func newWorker(s *Scheduler, id int) *worker {
	w := &worker{id: id, scheduler: s}
	w.reusable = fiber.New(fmt.Sprintf("%s-worker-%d-callable", s.name, id), func(*fiber.Fiber) {}, 0, false)
	return w
}

// run is the per-worker dispatch loop described by §4.2.
func (w *worker) run() {
	defer w.scheduler.wg.Done()
	for {
		task, tickleOthers, found := w.scheduler.pop(w.id)
		if tickleOthers {
			w.scheduler.Tickle()
		}
		if found {
			w.execute(task)
			continue
		}
		if w.scheduler.Stopping() {
			return
		}
		if exit := w.scheduler.Idle(w.id); exit {
			return
		}
	}
}

func (w *worker) execute(t Task) {
	defer atomic.AddInt32(&w.scheduler.active, -1)

	var f *fiber.Fiber
	if t.Fiber != nil {
		f = t.Fiber
		if !f.IsAlive() {
			return
		}
	} else {
		st := w.reusable.State()
		if st == fiber.Init || st == fiber.Term || st == fiber.Except {
			w.reusable.Reset(func(*fiber.Fiber) { t.Callable() })
			f = w.reusable
		} else {
			// reusable fiber is mid-flight (shouldn't happen on a
			// single-goroutine worker, but a callable that spawns
			// nested work could re-enter); fall back to a one-shot.
			f = fiber.New("callable", func(*fiber.Fiber) { t.Callable() }, 0, false)
		}
	}

	f.SetOwner(w.scheduler)
	f.Resume()
	w.scheduler.ctxSwitches.Add(1)

	switch f.State() {
	case fiber.Ready:
		w.scheduler.totalYields.Add(1)
		w.scheduler.resubmit(Task{Fiber: f, Affinity: t.Affinity})
	case fiber.Term, fiber.Except:
		w.scheduler.fibersCompleted.Add(1)
	default: // Hold: left suspended by its own will
	}
}
