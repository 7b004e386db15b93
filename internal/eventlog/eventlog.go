// Package eventlog keeps the user-visible system log: an append-only list of
// timestamped lines describing what the client did and what went wrong.
//
// Every entry is mirrored to slog so operators see the same history in the
// process logs.
package eventlog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/consultvox/internal/clock"
)

// Entry is one line of the system log.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// String renders the entry as "[15:04:05] message".
func (e Entry) String() string {
	return "[" + e.Time.Format(time.TimeOnly) + "] " + e.Message
}

// Log is an append-only, concurrency-safe system log.
type Log struct {
	clock  clock.Clock
	logger *slog.Logger
	limit  int

	mu      sync.Mutex
	entries []Entry
	subs    []func(Entry)
}

// Option configures a [Log].
type Option func(*Log)

// WithClock sets the clock used to timestamp entries.
func WithClock(c clock.Clock) Option {
	return func(l *Log) { l.clock = c }
}

// WithLogger sets the slog logger entries are mirrored to.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithLimit caps the number of retained entries; older entries are evicted
// first. Zero keeps everything.
func WithLimit(n int) Option {
	return func(l *Log) { l.limit = n }
}

// New creates an empty log.
func New(opts ...Option) *Log {
	l := &Log{clock: clock.Real{}, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Addf appends a formatted entry and notifies subscribers.
func (l *Log) Addf(format string, args ...any) Entry {
	e := Entry{Time: l.clock.Now(), Message: fmt.Sprintf(format, args...)}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if l.limit > 0 && len(l.entries) > l.limit {
		l.entries = append([]Entry(nil), l.entries[len(l.entries)-l.limit:]...)
	}
	subs := make([]func(Entry), len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	l.logger.Info("system log", "entry", e.Message)
	for _, fn := range subs {
		fn(e)
	}
	return e
}

// Entries returns a copy of all retained entries in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Messages returns the message text of every retained entry.
func (l *Log) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Message
	}
	return out
}

// Subscribe registers fn to be called, on the appending goroutine, for every
// new entry. fn must not block.
func (l *Log) Subscribe(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}
