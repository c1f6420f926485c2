// Package rtlog is the runtime's structured logging facade: a thin
// wrapper over github.com/joeycumines/logiface configured with the
// stumpy (zero-dependency JSON-lines) backend by default, grounded on
// the teacher corpus's own logiface.New/logiface-stumpy.WithStumpy
// pairing (logiface/logger.go, logiface-stumpy/factory.go).
//
// Every runtime component logs through a *Logger obtained from New or
// Named, never through fmt/log directly, matching the corpus convention
// that structured logging is ambient infrastructure, not a per-feature
// add-on.
package rtlog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/logiface-stumpy"
)

// Logger wraps a logiface.Logger[*stumpy.Event], adding a "component"
// field carried by every record emitted through it.
type Logger struct {
	base      *logiface.Logger[*stumpy.Event]
	component string
}

// Option configures New.
type Option func(*options)

type options struct {
	writer io.Writer
	level  logiface.Level
}

// WithWriter overrides the default (os.Stderr) output sink.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithLevel sets the minimum level that will be written.
func WithLevel(l logiface.Level) Option {
	return func(o *options) { o.level = l }
}

// New constructs a root Logger.
func New(component string, opts ...Option) *Logger {
	o := options{writer: os.Stderr, level: logiface.LevelInformational}
	for _, opt := range opts {
		opt(&o)
	}
	base := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(o.writer)),
		stumpy.L.WithLevel(o.level),
	)
	return &Logger{base: base, component: component}
}

// Named derives a child Logger with a sub-component name appended,
// e.g. Named("worker") on a "sched" logger yields records tagged
// "sched.worker".
func (l *Logger) Named(sub string) *Logger {
	name := sub
	if l.component != "" {
		name = l.component + "." + sub
	}
	return &Logger{base: l.base, component: name}
}

func (l *Logger) event(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event] {
	if l.component != "" {
		b = b.Str("component", l.component)
	}
	return b
}

// Debug, Info, Warn and Error start a fluent field-builder for a record
// at the corresponding level; call .Log(msg) (or .Err(err).Log(msg)) to
// emit it. A nil return (level filtered out) is safe to chain against,
// matching logiface's own "builder methods no-op below the configured
// level" contract.
func (l *Logger) Debug() *logiface.Builder[*stumpy.Event] { return l.event(l.base.Debug()) }
func (l *Logger) Info() *logiface.Builder[*stumpy.Event]  { return l.event(l.base.Info()) }
func (l *Logger) Warn() *logiface.Builder[*stumpy.Event]  { return l.event(l.base.Warning()) }
func (l *Logger) Error() *logiface.Builder[*stumpy.Event] { return l.event(l.base.Err()) }
