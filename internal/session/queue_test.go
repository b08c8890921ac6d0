package session

import (
	"context"
	"testing"
	"time"
)

func TestJobQueue_FIFOAndBound(t *testing.T) {
	q := newJobQueue(2)
	var got []int
	mk := func(i int) job { return func(context.Context) { got = append(got, i) } }

	if !q.Enqueue(mk(1)) || !q.Enqueue(mk(2)) {
		t.Fatalf("enqueue under bound failed")
	}
	if q.Enqueue(mk(3)) {
		t.Fatalf("enqueue over bound succeeded")
	}
	if q.DropCount() != 1 {
		t.Fatalf("DropCount=%d, want 1", q.DropCount())
	}

	for i := 0; i < 2; i++ {
		j, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d failed", i)
		}
		j(context.Background())
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("order=%v", got)
	}
}

func TestJobQueue_CloseUnblocksAndDiscards(t *testing.T) {
	q := newJobQueue(4)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("Dequeue returned a job after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Dequeue not unblocked by Close")
	}

	if q.Enqueue(func(context.Context) {}) {
		t.Fatalf("enqueue after close succeeded")
	}
}

func TestObservers_QueuedNotReentrant(t *testing.T) {
	var o observers[int]
	var got []int
	o.subscribe(func(v int) {
		got = append(got, v)
		if v == 1 {
			o.enqueue(2)
			o.drain()
			if len(got) != 1 {
				t.Fatalf("nested value delivered reentrantly")
			}
		}
	})

	o.enqueue(1)
	o.drain()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got=%v", got)
	}
}

func TestObservers_Cancel(t *testing.T) {
	var o observers[string]
	calls := 0
	cancel := o.subscribe(func(string) { calls++ })
	o.enqueue("a")
	o.drain()
	cancel()
	cancel()
	o.enqueue("b")
	o.drain()
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestState_String(t *testing.T) {
	for st, want := range map[State]string{
		StateIdle:        "idle",
		StateNegotiating: "negotiating",
		StateActive:      "active",
		StateClosed:      "closed",
		State(42):        "unknown",
	} {
		if st.String() != want {
			t.Fatalf("%d.String()=%q, want %q", int(st), st.String(), want)
		}
		b, _ := st.MarshalText()
		if string(b) != want {
			t.Fatalf("MarshalText=%q", b)
		}
	}
}
