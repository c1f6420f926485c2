// Package fiber implements the stackful coroutine primitive the runtime
// multiplexes over its worker thread pool: a Fiber can be resumed,
// voluntarily yields back to its scheduling context, and carries explicit
// context-switch semantics (§4.1 of the design).
//
// Go has no user-space stack-switch facility without assembly or cgo, and
// the "teacher" corpus for this runtime (joeycumines/go-utilpkg's
// eventloop package) models cooperative scheduling the same idiomatic Go
// way: one goroutine per unit of cooperative work, with explicit
// handshake channels standing in for the context swap. A Fiber here is a
// goroutine that never runs concurrently with its resumer: Resume blocks
// the caller until the fiber yields or terminates, and the fiber itself
// blocks on resumeCh between yield and the next resume, so the "at most
// one EXEC fiber per thread" invariant holds by construction rather than
// by register-level trickery.
package fiber

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// State is a Fiber's position in its lifecycle state machine.
type State int32

const (
	// Init is the state of a freshly constructed or freshly Reset fiber.
	Init State = iota
	// Ready means the fiber yielded voluntarily and wants to run again
	// as soon as the scheduler gets to it.
	Ready
	// Exec means the fiber is the one currently running on its worker.
	Exec
	// Hold means the fiber yielded and will only run again when
	// something explicitly resumes it (e.g. I/O readiness, a timer).
	Hold
	// Term means the entry function returned normally.
	Term
	// Except means the entry function panicked.
	Except
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Ready:
		return "READY"
	case Exec:
		return "EXEC"
	case Hold:
		return "HOLD"
	case Term:
		return "TERM"
	case Except:
		return "EXCEPT"
	default:
		return "UNKNOWN"
	}
}

// Entry is the callable a fiber runs. It receives the fiber itself so it
// can call Yield*/Sleep-style helpers built on top without a global
// "current fiber" import cycle.
type Entry func(self *Fiber)

type signalKind int32

const (
	sigReady signalKind = iota
	sigHold
	sigTerm
	sigExcept
)

type signal struct {
	kind  signalKind
	panic any
}

// Fiber is a single stackful coroutine.
//
// Instances are reference-counted via Retain/Release so that a fiber
// referenced from a scheduler ready-queue entry and from an I/O manager
// descriptor context at the same time isn't freed out from under either
// holder; Release is a no-op decrement, Go's GC does the actual
// reclamation once the refcount observably can't reach zero from outside
// (the count exists to let callers assert "still referenced", not to
// drive manual deallocation).
type Fiber struct {
	id        int64
	name      string
	stackSize int
	useCaller bool

	mu      sync.Mutex
	entry   Entry
	state   atomic.Int32
	started bool
	panic   any

	refs atomic.Int32

	resumeCh chan struct{}
	yieldCh  chan signal

	owner atomic.Value // owner scheduler/io-manager, opaque to this package
}

var idCounter int64

// DefaultStackSize is the nominal stack size recorded against fibers that
// don't specify one; it has no operational effect (Go manages goroutine
// stacks dynamically) but is surfaced via StackSize for diagnostics and
// parity with the spec's "~128 KiB default".
const DefaultStackSize = 128 * 1024

// New constructs a fiber in state Init, wrapping entry. stackSize is
// advisory (see DefaultStackSize); useCaller marks a fiber as a thread's
// main/scheduling fiber. It is only recorded and reported by UseCaller;
// Resume and the Yield methods behave the same either way.
func New(name string, entry Entry, stackSize int, useCaller bool) *Fiber {
	if entry == nil {
		panic("fiber: New called with a nil entry")
	}
	if stackSize <= 0 {
		stackSize = DefaultStackSize
	}
	f := &Fiber{
		id:        atomic.AddInt64(&idCounter, 1),
		name:      name,
		stackSize: stackSize,
		useCaller: useCaller,
		entry:     entry,
		resumeCh:  make(chan struct{}),
		yieldCh:   make(chan signal),
	}
	f.state.Store(int32(Init))
	return f
}

// ID returns the fiber's identity, a monotonically increasing counter
// unique within the process.
func (f *Fiber) ID() int64 { return f.id }

// Name returns the fiber's cosmetic name, used only in diagnostics.
func (f *Fiber) Name() string { return f.name }

// StackSize returns the advisory stack size passed to New.
func (f *Fiber) StackSize() int { return f.stackSize }

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() State { return State(f.state.Load()) }

// Panic returns the recovered panic value if the fiber is in Except,
// otherwise nil.
func (f *Fiber) Panic() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.panic
}

// Retain increments the fiber's reference count. Call once per holder
// (ready-queue entry, descriptor context, ...).
func (f *Fiber) Retain() { f.refs.Add(1) }

// Release decrements the fiber's reference count.
func (f *Fiber) Release() { f.refs.Add(-1) }

// RefCount returns the current reference count, for invariant checks in
// tests.
func (f *Fiber) RefCount() int32 { return f.refs.Load() }

func (f *Fiber) String() string {
	return fmt.Sprintf("Fiber[%d:%s:%s]", f.id, f.name, f.State())
}

// Reset re-initializes the fiber with a new entry function. Only valid
// when the fiber is in Init, Term or Except; attempting it on a fiber
// that is Ready, Exec or Hold is a programmer error and panics, matching
// the spec's "destroying/resetting an executing fiber is a programming
// error" stance on invariant violations.
func (f *Fiber) Reset(entry Entry) {
	if entry == nil {
		panic("fiber: Reset called with a nil entry")
	}
	st := f.State()
	if st != Init && st != Term && st != Except {
		panic(fmt.Sprintf("fiber: Reset called on fiber %d in state %s", f.id, st))
	}
	f.mu.Lock()
	f.entry = entry
	f.started = false
	f.panic = nil
	f.mu.Unlock()
	f.state.Store(int32(Init))
}

// Resume switches the calling goroutine's thread of control into the
// fiber: it blocks until the fiber yields (Ready/Hold) or finishes
// (Term/Except). Resuming a fiber that is Term or Except is a no-op;
// resuming one that is already Exec is a programmer error (a fiber can
// only be resumed by the worker that holds it, and the dispatch loop
// never does so while it's already running elsewhere).
func (f *Fiber) Resume() {
	st := f.State()
	if st == Term || st == Except {
		return
	}
	if st == Exec {
		panic(fmt.Sprintf("fiber: Resume called on fiber %d which is already EXEC", f.id))
	}

	f.state.Store(int32(Exec))

	f.mu.Lock()
	started := f.started
	f.started = true
	entry := f.entry
	f.mu.Unlock()

	if !started {
		go f.run(entry)
	} else {
		f.resumeCh <- struct{}{}
	}

	sig := <-f.yieldCh
	switch sig.kind {
	case sigReady:
		f.state.Store(int32(Ready))
	case sigHold:
		f.state.Store(int32(Hold))
	case sigTerm:
		f.state.Store(int32(Term))
	case sigExcept:
		f.mu.Lock()
		f.panic = sig.panic
		f.mu.Unlock()
		f.state.Store(int32(Except))
	}
}

// run executes entirely on a single dedicated goroutine for the fiber's
// whole lifetime: entry(f) may suspend and resume many times via
// yield/Resume round trips, but it is always the same goroutine, which is
// what lets SetCurrent/Current work as a thread-local-equivalent for code
// running inside the fiber.
func (f *Fiber) run(entry Entry) {
	SetCurrent(f)
	defer ClearCurrent()
	defer func() {
		if r := recover(); r != nil {
			f.yieldCh <- signal{kind: sigExcept, panic: r}
		}
	}()
	entry(f)
	f.yieldCh <- signal{kind: sigTerm}
}

// yield is the suspend half of a context switch: it must be called from
// within the fiber's own entry goroutine. It hands control back to
// whichever goroutine is blocked in Resume, then itself blocks until
// Resume is called again.
func (f *Fiber) yield(kind signalKind) {
	f.yieldCh <- signal{kind: kind}
	<-f.resumeCh
	f.state.Store(int32(Exec))
}

// YieldToHold suspends the current fiber into Hold: it will not run
// again until something explicitly Resumes it (the spec's "left
// suspended by its own will" case — I/O readiness, a timer firing, an
// explicit wake).
func (f *Fiber) YieldToHold() { f.yield(sigHold) }

// YieldToReady suspends the current fiber into Ready: the scheduler
// auto-requeues a Ready fiber for another turn at the earliest
// opportunity.
func (f *Fiber) YieldToReady() { f.yield(sigReady) }

// IsAlive reports whether the fiber has not yet reached a terminal
// state.
func (f *Fiber) IsAlive() bool {
	st := f.State()
	return st != Term && st != Except
}

// UseCaller reports whether this fiber was constructed to stand in for
// a thread's main/scheduling fiber (see package sched).
func (f *Fiber) UseCaller() bool { return f.useCaller }

// SetOwner attaches an opaque owner value (the scheduler or I/O manager
// that spawned the fiber) so code running inside the fiber's entry
// function — possibly many calls deep, e.g. in the hook layer — can
// recover "which scheduler am I running on" via Current().Owner(),
// without a fiber->sched import cycle.
func (f *Fiber) SetOwner(owner any) { f.owner.Store(owner) }

// Owner returns the value set by SetOwner, or nil.
func (f *Fiber) Owner() any { return f.owner.Load() }
