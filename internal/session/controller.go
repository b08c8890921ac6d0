// Package session drives the lifecycle of a realtime assistant session: it
// negotiates the connection, binds the event channel to the log and reacts to
// what the assistant sends (session setup, document-edit tool calls).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gothera/docsign2/internal/channel"
	"github.com/gothera/docsign2/internal/document"
	"github.com/gothera/docsign2/internal/eventlog"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/protocol"
	"github.com/gothera/docsign2/internal/signaling"
	"github.com/gothera/docsign2/internal/tools"
)

var (
	ErrSessionActive  = errors.New("session: a session is already active")
	ErrSessionStopped = errors.New("session: stopped during negotiation")
	ErrToolExecution  = errors.New("session: tool execution failed")
	// ErrRemote wraps "error" events sent by the realtime endpoint.
	ErrRemote = errors.New("session: realtime endpoint reported an error")
)

const (
	defaultConnectTimeout     = 30 * time.Second
	defaultNegotiationTimeout = 30 * time.Second

	documentInstructionsPrefix = "This is the content of a document: "
	followUpInstructions       = "Ask if they want to make any other changes to the document."
)

type Options struct {
	Negotiator Negotiator

	// Log is the event log the controller owns. Defaults to a new log.
	Log *eventlog.Log

	Executor tools.Executor
	// Tools are advertised in session.update. Defaults to tools.Builtin().
	Tools     []tools.Definition
	Documents *document.Store
	// ResolveDocumentID maps a document file name to the id the executor
	// expects. Defaults to the name itself.
	ResolveDocumentID func(name string) string

	// ConnectTimeout bounds the time from a successful negotiation to the
	// events channel opening.
	ConnectTimeout     time.Duration
	NegotiationTimeout time.Duration
	// FollowUpDelay is the wait before asking the user about further changes
	// after tool calls. Zero disables the follow-up.
	FollowUpDelay time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Controller owns at most one Session at a time.
type Controller struct {
	opts  Options
	log   *eventlog.Log
	docs  *document.Store
	tools []tools.Definition
	slog  *slog.Logger

	mu         sync.Mutex
	state      State
	gen        uint64
	cancelNeg  context.CancelFunc
	sess       *Session
	updateSent bool

	// sendMu keeps multi-event sends (SendText) contiguous on the wire.
	sendMu sync.Mutex

	stateObs observers[State]
	errObs   observers[error]

	unsubscribe func()
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	log := opts.Log
	if log == nil {
		log = eventlog.New()
	}
	docs := opts.Documents
	if docs == nil {
		docs = document.NewStore()
	}
	defs := opts.Tools
	if defs == nil {
		defs = tools.Builtin()
	}
	c := &Controller{
		opts:  opts,
		log:   log,
		docs:  docs,
		tools: defs,
		slog:  logger,
	}
	c.unsubscribe = log.Subscribe(c.handleLogChange)
	return c
}

func (c *Controller) Log() *eventlog.Log { return c.log }

func (c *Controller) Documents() *document.Store { return c.docs }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     State      `json:"state"`
	SessionID string     `json:"session_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Events    int        `json:"events"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state}
	if c.sess != nil {
		st.SessionID = c.sess.ID
		started := c.sess.StartedAt
		st.StartedAt = &started
	}
	c.mu.Unlock()
	st.Events = c.log.Len()
	return st
}

// OnStateChange registers fn for every state transition.
func (c *Controller) OnStateChange(fn func(State)) (cancel func()) {
	return c.stateObs.subscribe(fn)
}

// OnError registers fn for errors surfaced for display: start failures, tool
// failures, decode errors and remote error events.
func (c *Controller) OnError(fn func(error)) (cancel func()) {
	return c.errObs.subscribe(fn)
}

// Start negotiates a new session. It returns once the connection is
// negotiated; the state becomes Active when the events channel opens.
func (c *Controller) Start(ctx context.Context) error {
	if c.opts.Negotiator == nil {
		return fmt.Errorf("%w: no negotiator configured", signaling.ErrNegotiation)
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.gen++
	gen := c.gen
	negCtx, cancel := context.WithTimeout(ctx, c.negotiationTimeout())
	c.cancelNeg = cancel
	c.setStateLocked(StateNegotiating)
	c.mu.Unlock()
	c.stateObs.drain()

	c.slog.Info("starting realtime session")
	link, err := c.opts.Negotiator.Negotiate(negCtx)
	cancel()

	if err != nil {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return ErrSessionStopped
		}
		c.cancelNeg = nil
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		c.stateObs.drain()

		c.slog.Warn("session negotiation failed", "err", err)
		c.report(err)
		return err
	}

	ch := channel.New(link.Events(), link, c.log, channel.Options{
		Logger:  c.slog,
		Metrics: c.opts.Metrics,
		OnOpen:  func() { c.handleOpen(gen) },
		OnClose: func() { c.handleRemoteClose(gen, "data channel closed") },
		OnError: c.report,
		Origin:  gen,
	})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		ch.Close()
		c.slog.Info("discarding connection negotiated after stop")
		return ErrSessionStopped
	}
	sess := newSession(gen, link, ch)
	c.sess = sess
	c.cancelNeg = nil
	c.mu.Unlock()

	link.OnDisconnect(func() { c.handleRemoteClose(gen, "peer connection closed") })
	sess.armConnectTimeout(c.connectTimeout(), func() { c.handleConnectTimeout(gen) })
	ch.Start()

	c.opts.Metrics.Inc(metrics.SessionStarted)
	c.slog.Info("realtime session negotiated", "session_id", sess.ID)
	return nil
}

// Stop tears down the current session, if any, and returns to Idle. It is
// safe in every state, including during negotiation.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.gen++
	if c.cancelNeg != nil {
		c.cancelNeg()
		c.cancelNeg = nil
	}
	sess := c.sess
	c.sess = nil
	wasIdle := c.state == StateIdle
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if sess != nil {
		sess.close()
	}
	c.stateObs.drain()
	if !wasIdle {
		c.opts.Metrics.Inc(metrics.SessionStopped)
		c.slog.Info("realtime session stopped")
	}
}

// Close stops the session and detaches the controller from its log.
func (c *Controller) Close() {
	c.Stop()
	c.unsubscribe()
}

// Send transmits a raw client event. Outside Active it fails with
// channel.ErrChannelNotOpen and the log is not touched.
func (c *Controller) Send(ev protocol.Event) (protocol.Event, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendLocked(ev)
}

// SendText sends the user message and the response request as one
// contiguous pair.
func (c *Controller) SendText(text string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.sendLocked(protocol.UserText(text)); err != nil {
		return err
	}
	_, err := c.sendLocked(protocol.ResponseCreate())
	return err
}

func (c *Controller) sendLocked(ev protocol.Event) (protocol.Event, error) {
	if ev.Type == "" {
		return ev, channel.ErrMissingType
	}
	c.mu.Lock()
	sess := c.sess
	active := c.state == StateActive
	c.mu.Unlock()
	if !active || sess == nil {
		c.opts.Metrics.Inc(metrics.EventDroppedNotOpen)
		c.slog.Warn("dropping event: no active session", "event_type", ev.Type)
		return ev, channel.ErrChannelNotOpen
	}
	return sess.ch.Send(ev)
}

// sendOn sends for sess only while it is still the current session. Session
// work uses it so late jobs never leak onto a newer session.
func (c *Controller) sendOn(sess *Session, ev protocol.Event) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	current := c.sess == sess
	c.mu.Unlock()
	if !current {
		return channel.ErrChannelNotOpen
	}
	_, err := sess.ch.Send(ev)
	return err
}

func (c *Controller) handleOpen(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateNegotiating || c.sess == nil {
		c.mu.Unlock()
		return
	}
	sess := c.sess
	c.setStateLocked(StateActive)
	c.mu.Unlock()

	sess.disarmConnectTimeout()
	sess.setState(StateActive)
	c.stateObs.drain()
	c.slog.Info("realtime session active", "session_id", sess.ID)

	if _, ok := c.docs.Current(); ok {
		c.queueSessionUpdate(sess)
	}
}

func (c *Controller) handleRemoteClose(gen uint64, reason string) {
	c.mu.Lock()
	if c.gen != gen || c.sess == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	sess := c.sess
	c.sess = nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	sess.close()
	c.stateObs.drain()
	c.opts.Metrics.Inc(metrics.SessionRemoteClosed)
	c.slog.Info("realtime session ended remotely", "session_id", sess.ID, "reason", reason)
}

func (c *Controller) handleConnectTimeout(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateNegotiating || c.sess == nil {
		c.mu.Unlock()
		return
	}
	c.gen++
	sess := c.sess
	c.sess = nil
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	sess.close()
	c.stateObs.drain()
	c.opts.Metrics.Inc(metrics.ConnectTimeout)
	err := fmt.Errorf("%w: data channel did not open within %s", signaling.ErrNegotiation, c.connectTimeout())
	c.slog.Warn("realtime session connect timeout", "session_id", sess.ID, "err", err)
	c.report(err)
}

// setStateLocked must be called with c.mu held. Passing through Idle re-arms
// the session.update guard.
func (c *Controller) setStateLocked(st State) {
	if c.state == st {
		return
	}
	c.state = st
	if st == StateIdle {
		c.updateSent = false
	}
	c.stateObs.enqueue(st)
}

func (c *Controller) report(err error) {
	if err == nil {
		return
	}
	c.errObs.enqueue(err)
	c.errObs.drain()
}

func (c *Controller) connectTimeout() time.Duration {
	if c.opts.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return c.opts.ConnectTimeout
}

func (c *Controller) negotiationTimeout() time.Duration {
	if c.opts.NegotiationTimeout <= 0 {
		return defaultNegotiationTimeout
	}
	return c.opts.NegotiationTimeout
}
