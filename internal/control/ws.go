package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gothera/docsign2/internal/eventlog"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/ratelimit"
	"github.com/gothera/docsign2/internal/session"
)

const (
	wsWriteWait       = 5 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = wsPongWait * 9 / 10
	wsMaxMessageBytes = 1 << 20
	wsSendQueueLen    = 256
)

// Stream message kinds.
const (
	KindEvent   = "event"
	KindCleared = "cleared"
	KindState   = "state"
	KindError   = "error"
)

// StreamMessage is one frame pushed to /session/ws clients.
type StreamMessage struct {
	Kind  string     `json:"kind"`
	Event *EventView `json:"event,omitempty"`
	State string     `json:"state,omitempty"`
	Error string     `json:"error,omitempty"`
}

// Command is one frame received from /session/ws clients.
type Command struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Event json.RawMessage `json:"event,omitempty"`
}

var errSlowConsumer = errors.New("control stream: client not keeping up")

// stream is the outbound side of one WebSocket connection. Notifications run
// on whatever goroutine mutated the log or controller, so push never blocks.
// err is written once, before done closes.
type stream struct {
	out  chan StreamMessage
	done chan struct{}
	once sync.Once
	err  error
}

func newStream() *stream {
	return &stream{out: make(chan StreamMessage, wsSendQueueLen), done: make(chan struct{})}
}

func (st *stream) push(m StreamMessage) {
	select {
	case <-st.done:
	case st.out <- m:
	default:
		st.stop(errSlowConsumer)
	}
}

func (st *stream) stop(err error) {
	st.once.Do(func() {
		st.err = err
		close(st.done)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("control ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	log := s.log.With("remote_addr", r.RemoteAddr)
	log.Info("control stream connected")

	st := newStream()
	unsubscribe := []func(){
		s.ctrl.Log().Subscribe(func(c eventlog.Change) {
			switch c.Kind {
			case eventlog.Appended:
				v := newEventView(c.Event)
				st.push(StreamMessage{Kind: KindEvent, Event: &v})
			case eventlog.Cleared:
				st.push(StreamMessage{Kind: KindCleared})
			}
		}),
		s.ctrl.OnStateChange(func(state session.State) {
			st.push(StreamMessage{Kind: KindState, State: state.String()})
		}),
		s.ctrl.OnError(func(err error) {
			st.push(StreamMessage{Kind: KindError, Error: err.Error()})
		}),
	}
	defer func() {
		for _, fn := range unsubscribe {
			fn()
		}
	}()
	st.push(StreamMessage{Kind: KindState, State: s.ctrl.State().String()})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, st)
		// Unblock the reader when the writer gave up first.
		if st.err != nil {
			if errors.Is(st.err, errSlowConsumer) {
				writeClose(conn, websocket.ClosePolicyViolation, "client too slow")
			}
			_ = conn.Close()
		}
	}()

	s.readLoop(conn, st)
	st.stop(nil)
	<-writerDone

	if st.err != nil {
		log.Warn("control stream dropped", "err", st.err)
		return
	}
	log.Info("control stream disconnected")
}

func (s *Server) writeLoop(conn *websocket.Conn, st *stream) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-st.done:
			return
		case m := <-st.out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(m); err != nil {
				st.stop(err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				st.stop(err)
				return
			}
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, st *stream) {
	conn.SetReadLimit(wsMaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	limiter := ratelimit.PerSecond(s.opts.Clock, s.opts.WSMessagesPerSecond)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-st.done:
			return
		default:
		}
		if !limiter.Allow(1) {
			s.opts.Metrics.Inc(metrics.ControlWSRateLimited)
			st.push(StreamMessage{Kind: KindError, Error: "rate limit exceeded; command dropped"})
			continue
		}
		if msgType != websocket.TextMessage {
			st.push(StreamMessage{Kind: KindError, Error: "expected text message"})
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			st.push(StreamMessage{Kind: KindError, Error: "invalid command"})
			continue
		}
		if err := s.runCommand(cmd); err != nil {
			st.push(StreamMessage{Kind: KindError, Error: err.Error()})
		}
	}
}

func (s *Server) runCommand(cmd Command) error {
	switch cmd.Type {
	case "text":
		if cmd.Text == "" {
			return errors.New("text must not be empty")
		}
		return s.ctrl.SendText(cmd.Text)
	case "event":
		if len(cmd.Event) == 0 {
			return errors.New("event must not be empty")
		}
		_, err := s.sendRaw(cmd.Event)
		return err
	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
