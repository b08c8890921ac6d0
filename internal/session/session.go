package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gothera/docsign2/internal/channel"
)

const maxQueuedJobs = 64

// Session is one negotiated connection and its channel, from Start until
// teardown. Its resources are released together by close.
type Session struct {
	ID        string
	StartedAt time.Time

	gen  uint64
	link Link
	ch   *channel.Channel

	ctx    context.Context
	cancel context.CancelFunc
	queue  *jobQueue

	mu           sync.Mutex
	state        State
	connectTimer *time.Timer
	timers       []*time.Timer
}

func newSession(gen uint64, link Link, ch *channel.Channel) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		gen:       gen,
		link:      link,
		ch:        ch,
		ctx:       ctx,
		cancel:    cancel,
		queue:     newJobQueue(maxQueuedJobs),
		state:     StateNegotiating,
	}
	go s.work()
	return s
}

func (s *Session) work() {
	for {
		j, ok := s.queue.Dequeue()
		if !ok {
			return
		}
		j(s.ctx)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) enqueue(j job) bool {
	return s.queue.Enqueue(j)
}

func (s *Session) armConnectTimeout(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.connectTimer = time.AfterFunc(d, fn)
}

func (s *Session) disarmConnectTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

// after runs fn once d has passed unless the session closes first.
func (s *Session) after(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.timers = append(s.timers, time.AfterFunc(d, fn))
}

// close tears everything down. It is safe to call more than once.
func (s *Session) close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()

	s.cancel()
	s.queue.Close()
	if s.ch != nil {
		s.ch.Close()
	} else if s.link != nil {
		_ = s.link.Close()
	}
}
