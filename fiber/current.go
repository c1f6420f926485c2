package fiber

import "github.com/wyzrun/fiberd/internal/gls"

// current tracks the fiber executing on each goroutine that calls
// SetCurrent. Each fiber's dedicated goroutine calls SetCurrent when it
// starts and ClearCurrent when its entry function finishes (see
// Fiber.run), giving code inside the fiber its own "current fiber" slot
// the way the spec's per-thread pointer does, without Go needing real
// thread-local storage (see internal/gls).
var current = gls.NewStore[*Fiber]()

// SetCurrent records f as the fiber executing on the calling goroutine.
// Fiber.run calls it on the fiber's own goroutine before the entry
// function runs; not meant to be called from fiber entry functions.
func SetCurrent(f *Fiber) { current.Set(f) }

// ClearCurrent removes the current-fiber association for the calling
// goroutine.
func ClearCurrent() { current.Clear() }

// Current returns the fiber currently executing on the calling goroutine,
// or nil if none is set (e.g. a plain goroutine outside any worker).
func Current() *Fiber {
	f, ok := current.Get()
	if !ok {
		return nil
	}
	return f
}

// CurrentID returns Current().ID(), or 0 if there is no current fiber.
func CurrentID() int64 {
	if f := Current(); f != nil {
		return f.ID()
	}
	return 0
}
