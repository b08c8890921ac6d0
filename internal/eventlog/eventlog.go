// Package eventlog keeps the ordered trace of every protocol event sent or
// received during a realtime session.
package eventlog

import (
	"sort"
	"sync"

	"github.com/gothera/docsign2/internal/protocol"
)

// ChangeKind identifies what happened to the log.
type ChangeKind int

const (
	Appended ChangeKind = iota
	Cleared
)

func (k ChangeKind) String() string {
	switch k {
	case Appended:
		return "appended"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind ChangeKind
	// Event is the appended event (zero for Cleared).
	Event protocol.Event
	// Seq is the position of Event in insertion order since the last clear.
	Seq int
	// Origin is the tag passed to AppendFrom, nil otherwise.
	Origin any
}

// Predicate selects events for a display projection.
type Predicate func(protocol.Event) bool

// ChatMessages selects the events a chat view renders: completed responses and
// created conversation items, never partial deltas.
func ChatMessages(ev protocol.Event) bool {
	if protocol.IsDelta(ev.Type) {
		return false
	}
	return ev.Type == protocol.TypeResponseDone || ev.Type == protocol.TypeConversationItemCreate
}

// Log is an ordered append-only event log.
//
// The log itself never filters: it is a complete wire trace. Subscribers are
// invoked synchronously in mutation order. Mutations made from inside a
// subscriber are applied immediately but their notifications are queued behind
// the one being delivered.
type Log struct {
	mu     sync.Mutex
	events []protocol.Event // oldest first
	clears int

	subsMu sync.Mutex
	subs   map[int]func(Change)
	nextID int

	notifyMu    sync.Mutex
	pending     []Change
	dispatching bool
}

func New() *Log {
	return &Log{subs: make(map[int]func(Change))}
}

// Append records ev at the most recent position.
func (l *Log) Append(ev protocol.Event) {
	l.AppendFrom(ev, nil)
}

// AppendFrom records ev like Append and tags its notification with origin so
// subscribers can tell which producer appended it.
func (l *Log) AppendFrom(ev protocol.Event, origin any) {
	l.appendDeferred(ev, origin)
	l.drain()
}

// AppendDeferred records ev like Append but leaves its notification queued
// until the next Flush, Append or Clear. Callers holding a lock that a
// subscriber might need use it to record under that lock and Flush after
// releasing it.
func (l *Log) AppendDeferred(ev protocol.Event) {
	l.appendDeferred(ev, nil)
}

func (l *Log) appendDeferred(ev protocol.Event, origin any) {
	ev = ev.Clone()
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.enqueue(Change{Kind: Appended, Event: ev.Clone(), Seq: len(l.events) - 1, Origin: origin})
	l.mu.Unlock()
}

// Flush delivers queued notifications. It returns immediately when another
// call is already delivering; that call picks up the queue.
func (l *Log) Flush() {
	l.drain()
}

// Clear drops every event.
func (l *Log) Clear() {
	l.mu.Lock()
	for i := range l.events {
		l.events[i] = protocol.Event{}
	}
	l.events = nil
	l.clears++
	l.enqueue(Change{Kind: Cleared})
	l.mu.Unlock()

	l.drain()
}

// Clears returns how many times the log has been cleared.
func (l *Log) Clears() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clears
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// MostRecent returns the newest event.
func (l *Log) MostRecent() (protocol.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return protocol.Event{}, false
	}
	return l.events[len(l.events)-1].Clone(), true
}

// Events returns the whole log, newest first. Read methods return copies;
// the log changes only through Append and Clear.
func (l *Log) Events() []protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]protocol.Event, len(l.events))
	for i, ev := range l.events {
		out[len(l.events)-1-i] = ev.Clone()
	}
	return out
}

// DisplayList returns the events accepted by pred, oldest first, for chat style
// rendering. A nil predicate accepts everything.
func (l *Log) DisplayList(pred Predicate) []protocol.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []protocol.Event
	for _, ev := range l.events {
		if pred == nil || pred(ev) {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// Subscribe registers fn for every subsequent change and returns a function
// that removes it.
func (l *Log) Subscribe(fn func(Change)) (cancel func()) {
	l.subsMu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = fn
	l.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.subsMu.Lock()
			delete(l.subs, id)
			l.subsMu.Unlock()
		})
	}
}

func (l *Log) subscribers() []func(Change) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	ids := make([]int, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Change), len(ids))
	for i, id := range ids {
		out[i] = l.subs[id]
	}
	return out
}

// enqueue must be called with l.mu held so notifications keep mutation order
// across goroutines.
func (l *Log) enqueue(c Change) {
	l.notifyMu.Lock()
	l.pending = append(l.pending, c)
	l.notifyMu.Unlock()
}

func (l *Log) drain() {
	l.notifyMu.Lock()
	if l.dispatching {
		l.notifyMu.Unlock()
		return
	}
	l.dispatching = true
	for len(l.pending) > 0 {
		next := l.pending[0]
		l.pending[0] = Change{}
		l.pending = l.pending[1:]
		l.notifyMu.Unlock()

		for _, fn := range l.subscribers() {
			fn(next)
		}

		l.notifyMu.Lock()
	}
	l.pending = nil
	l.dispatching = false
	l.notifyMu.Unlock()
}
