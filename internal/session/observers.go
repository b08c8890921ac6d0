package session

import (
	"sort"
	"sync"
)

// observers delivers values to subscribers in enqueue order. Values enqueued
// while a delivery is running (including from a subscriber) are queued behind
// it rather than delivered reentrantly.
type observers[T any] struct {
	subsMu sync.Mutex
	subs   map[int]func(T)
	nextID int

	mu          sync.Mutex
	pending     []T
	dispatching bool
}

func (o *observers[T]) subscribe(fn func(T)) (cancel func()) {
	o.subsMu.Lock()
	if o.subs == nil {
		o.subs = make(map[int]func(T))
	}
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.subsMu.Lock()
			delete(o.subs, id)
			o.subsMu.Unlock()
		})
	}
}

func (o *observers[T]) snapshot() []func(T) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	ids := make([]int, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(T), len(ids))
	for i, id := range ids {
		out[i] = o.subs[id]
	}
	return out
}

// enqueue is called with the owner's state lock held so delivery order
// follows mutation order.
func (o *observers[T]) enqueue(v T) {
	o.mu.Lock()
	o.pending = append(o.pending, v)
	o.mu.Unlock()
}

func (o *observers[T]) drain() {
	o.mu.Lock()
	if o.dispatching {
		o.mu.Unlock()
		return
	}
	o.dispatching = true
	for len(o.pending) > 0 {
		next := o.pending[0]
		var zero T
		o.pending[0] = zero
		o.pending = o.pending[1:]
		o.mu.Unlock()

		for _, fn := range o.snapshot() {
			fn(next)
		}

		o.mu.Lock()
	}
	o.pending = nil
	o.dispatching = false
	o.mu.Unlock()
}
