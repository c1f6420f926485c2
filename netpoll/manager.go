package netpoll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyzrun/fiberd/fiber"
	"github.com/wyzrun/fiberd/internal/backoff"
	"github.com/wyzrun/fiberd/internal/rtlog"
	"github.com/wyzrun/fiberd/sched"
	"github.com/wyzrun/fiberd/timer"
)

// timerBatchMaxSize and timerBatchFlush bound how long an expired timer
// callback waits behind other expired callbacks before the coalescer
// hands the accumulated group to the scheduler as one SubmitBatch call,
// rather than one Submit per callback.
const (
	timerBatchMaxSize = 32
	timerBatchFlush   = 2 * time.Millisecond
)

// maxPollTimeoutMs bounds a single poller.wait call so the leader worker
// periodically re-checks Stopping() even if nothing ever becomes ready
// and no timer is pending.
const maxPollTimeoutMs = 1000

// waiter is one fiber suspended on a single direction of one descriptor.
type waiter struct {
	fiber    *fiber.Fiber
	affinity int
	timeout  timer.Handle
	hasTO    bool
	done     atomic.Bool
	result   Events
	err      error
}

// Manager is the I/O manager: a Scheduler fused with a timer.Manager and
// a platform poller, so fibers can suspend on "this descriptor is ready"
// or "this much time has passed" using the same ready queue and worker
// pool as ordinary scheduled work.
type Manager struct {
	*sched.Scheduler
	Timers *timer.Manager

	poller poller
	dtable descriptorTable

	timerBatch *sched.Coalescer

	wakeR, wakeW int

	leader   atomic.Bool
	idleMu   sync.Mutex
	idleCond *sync.Cond

	log      *rtlog.Logger
	warnRate *backoff.Limiter

	closed atomic.Bool
}

// New constructs an I/O manager with workerCount scheduler workers.
func New(workerCount int, useCaller bool, name string) (*Manager, error) {
	m := &Manager{}
	m.Scheduler = sched.New(workerCount, useCaller, name)
	m.Timers = timer.NewManager(nil)
	m.idleCond = sync.NewCond(&m.idleMu)
	m.poller = newPlatformPoller()
	m.log = rtlog.New("netpoll").Named(name)
	m.warnRate = backoff.New(time.Second, 1)

	if err := m.poller.init(); err != nil {
		return nil, err
	}
	rfd, wfd, err := newWakeFd()
	if err != nil {
		_ = m.poller.closeP()
		return nil, err
	}
	m.wakeR, m.wakeW = rfd, wfd
	if err := m.poller.add(m.wakeR, EventRead); err != nil {
		closeWakeFd(m.wakeR, m.wakeW)
		_ = m.poller.closeP()
		return nil, err
	}

	m.timerBatch = sched.NewCoalescer(m.Scheduler, timerBatchMaxSize, timerBatchFlush)

	m.Timers.OnFrontInserted = m.wake
	m.Scheduler.Tickle = m.tickle
	m.Scheduler.Idle = m.idle
	return m, nil
}

func (m *Manager) wake()   { writeWake(m.wakeW) }
func (m *Manager) tickle() {
	m.wake()
	m.idleMu.Lock()
	m.idleCond.Broadcast()
	m.idleMu.Unlock()
}

// idle is the Scheduler.Idle override: idle workers take turns becoming
// the single "poll leader" that blocks in the platform poller; followers
// wait on a condvar, woken by tickle whenever new work, a new readiness
// event, or a sooner timer appears.
func (m *Manager) idle(threadID int) bool {
	for {
		if m.Scheduler.Stopping() || m.closed.Load() {
			return true
		}
		if m.leader.CompareAndSwap(false, true) {
			exit := m.pollOnce()
			m.leader.Store(false)
			m.idleMu.Lock()
			m.idleCond.Broadcast()
			m.idleMu.Unlock()
			return exit
		}
		m.idleMu.Lock()
		m.idleCond.Wait()
		m.idleMu.Unlock()
	}
}

func (m *Manager) pollOnce() bool {
	timeoutMs := maxPollTimeoutMs
	if d := m.Timers.NextExpiry(); d != timer.NoTimer {
		if d < int64(maxPollTimeoutMs) {
			timeoutMs = int(d)
		}
	}

	_, err := m.poller.wait(timeoutMs, m.onEvent)
	if err != nil {
		if m.warnRate.ShouldLog("poll-error") {
			m.log.Error().Err(err).Log("poller wait failed")
		}
		// A poll error is logged and swallowed, not fatal: the scheduler
		// only exits on an explicit Stop, never because one poll cycle
		// failed, so the leader keeps rotating back through idle/pollOnce
		// rather than reporting exit=true here.
		return false
	}
	drainWake(m.wakeR)

	for _, cb := range m.Timers.CollectExpired() {
		cb := cb
		if err := m.timerBatch.Submit(context.Background(), sched.Task{Affinity: sched.AnyThread, Callable: cb}); err != nil {
			// Coalescer closed out from under us during shutdown; submit
			// directly so the callback still runs rather than get lost.
			m.Submit(sched.Task{Affinity: sched.AnyThread, Callable: cb})
		}
	}
	return false
}

func (m *Manager) onEvent(fd int, ev Events) {
	if fd == m.wakeR {
		return
	}
	e := m.dtable.peek(fd)
	if e == nil {
		return
	}

	e.mu.Lock()
	var fired []*waiter
	terminal := ev&(EventError|EventHangup) != 0
	if e.read != nil && (ev&EventRead != 0 || terminal) {
		fired = append(fired, e.read)
		e.read = nil
	}
	if e.write != nil && (ev&EventWrite != 0 || terminal) {
		fired = append(fired, e.write)
		e.write = nil
	}
	newEvents := Events(0)
	if e.read != nil {
		newEvents |= EventRead
	}
	if e.write != nil {
		newEvents |= EventWrite
	}
	if e.added && !e.closed && newEvents != e.events {
		_ = m.poller.modify(fd, newEvents)
	}
	e.events = newEvents
	e.mu.Unlock()

	for _, w := range fired {
		if !w.done.CompareAndSwap(false, true) {
			continue
		}
		if w.hasTO {
			m.Timers.Cancel(w.timeout)
		}
		w.result = ev
		m.resume(w)
	}
}

func (m *Manager) resume(w *waiter) {
	m.Submit(sched.Task{Fiber: w.fiber, Affinity: w.affinity})
}

// cancelEvent clears w out of fd's armed direction(s) and re-syncs the
// poller's registered event set, the timeout-path equivalent of onEvent's
// own clearing of a fired waiter. Without this, a waiter that times out
// leaves e.read/e.write still pointing at it and the poller still armed
// for that direction, so a timed-out-then-reused descriptor would carry
// stale pending-event state forward.
func (m *Manager) cancelEvent(fd int, w *waiter) {
	e := m.dtable.peek(fd)
	if e == nil {
		return
	}

	e.mu.Lock()
	if e.read == w {
		e.read = nil
	}
	if e.write == w {
		e.write = nil
	}
	newEvents := Events(0)
	if e.read != nil {
		newEvents |= EventRead
	}
	if e.write != nil {
		newEvents |= EventWrite
	}
	if e.added && !e.closed && newEvents != e.events {
		_ = m.poller.modify(fd, newEvents)
	}
	e.events = newEvents
	e.mu.Unlock()
}

// WaitReady registers fd for ev and suspends the calling fiber until it
// becomes ready, the descriptor errors/hangs up, or timeoutMs elapses
// (timeoutMs <= 0 means wait indefinitely). Must be called from within a
// fiber owned by this manager's scheduler.
func (m *Manager) WaitReady(fd int, ev Events, timeoutMs int64) (Events, error) {
	self := fiber.Current()
	if self == nil {
		panic("netpoll: WaitReady must be called from within a fiber")
	}
	if m.closed.Load() {
		return 0, ErrClosed
	}

	e := m.dtable.get(fd)
	w := &waiter{fiber: self, affinity: sched.AnyThread}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	if ev&EventRead != 0 {
		e.read = w
	}
	if ev&EventWrite != 0 {
		e.write = w
	}
	newEvents := e.events | ev
	needSync := !e.added || newEvents != e.events
	wasAdded := e.added
	e.events = newEvents
	e.added = true
	e.mu.Unlock()

	if needSync {
		var err error
		if wasAdded {
			err = m.poller.modify(fd, newEvents)
		} else {
			err = m.poller.add(fd, newEvents)
		}
		if err != nil {
			return 0, err
		}
	}

	if timeoutMs > 0 {
		w.hasTO = true
		w.timeout = timer.AddConditionTimer(m.Timers, timeoutMs, w, func(w *waiter) {
			if w.done.CompareAndSwap(false, true) {
				m.cancelEvent(fd, w)
				w.err = ErrTimeout
				m.resume(w)
			}
		}, false)
	}

	self.YieldToHold()
	return w.result, w.err
}

// Forget removes fd from the poller and descriptor table entirely. Any
// fiber still waiting on fd is resumed, and its WaitReady returns
// ErrClosed.
func (m *Manager) Forget(fd int) {
	e := m.dtable.peek(fd)
	if e == nil {
		return
	}
	e.mu.Lock()
	wasAdded := e.added
	e.closed = true
	pending := []*waiter{e.read, e.write}
	e.read, e.write = nil, nil
	e.mu.Unlock()
	if wasAdded {
		_ = m.poller.remove(fd)
	}
	m.dtable.forget(fd)

	for _, w := range pending {
		if w == nil || !w.done.CompareAndSwap(false, true) {
			continue
		}
		if w.hasTO {
			m.Timers.Cancel(w.timeout)
		}
		w.err = ErrClosed
		m.resume(w)
	}
}

// Start spawns the scheduler workers that jointly own this manager's
// poll-leader rotation.
func (m *Manager) Start() { m.Scheduler.Start() }

// Stop requests shutdown and blocks until every worker (including a
// leader possibly blocked inside the platform poller) has observed it
// and exited. Shutdown latency is bounded by repeatedly tickling every
// millisecond until the scheduler's own Stop (which needs its private
// synchronization, inaccessible from this package) returns; this is a
// cold path, not the hot one, so the busy-retry is an acceptable price
// for not needing to reach into sched.Scheduler internals.
func (m *Manager) Stop() {
	// Flush anything the timer coalescer is still holding onto SubmitBatch
	// before the scheduler stops accepting new work, so a callback queued
	// moments ago doesn't get silently dropped by the shutdown race.
	_ = m.timerBatch.Close()

	done := make(chan struct{})
	go func() {
		m.Scheduler.Stop()
		close(done)
	}()
	for {
		select {
		case <-done:
			m.closed.Store(true)
			_ = m.poller.closeP()
			closeWakeFd(m.wakeR, m.wakeW)
			return
		case <-time.After(time.Millisecond):
			m.tickle()
		}
	}
}
