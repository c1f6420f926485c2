// Package backoff rate-limits the runtime's noisy diagnostic logging —
// in this module, the "poller wait failed" log line in package netpoll —
// so a pathological workload that hammers that path cannot turn into a
// log flood.
//
// Grounded on github.com/joeycumines/go-catrate's sliding-window
// Limiter (catrate/limiter.go), used here per diagnostic category
// rather than per network client, which is catrate's own usual
// application.
package backoff

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// Limiter wraps a catrate.Limiter, exposing a single ShouldLog check per
// category.
type Limiter struct {
	inner *catrate.Limiter
}

// New constructs a Limiter allowing at most maxPerWindow occurrences of
// a given category within window.
func New(window time.Duration, maxPerWindow int) *Limiter {
	return &Limiter{inner: catrate.NewLimiter(map[time.Duration]int{window: maxPerWindow})}
}

// ShouldLog reports whether an occurrence of category should be logged
// now, consuming one slot of its rate budget if so.
func (l *Limiter) ShouldLog(category string) bool {
	_, ok := l.inner.Allow(category)
	return ok
}
