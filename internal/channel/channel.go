// Package channel frames protocol events over the realtime session's
// "oai-events" DataChannel and records both directions in the event log.
package channel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/gothera/docsign2/internal/eventlog"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/protocol"
)

var (
	ErrChannelNotOpen = errors.New("channel: data channel is not open")
	ErrMissingType    = errors.New("channel: event has no type")
)

// DataChannel is the subset of *webrtc.DataChannel the channel uses.
type DataChannel interface {
	OnOpen(func())
	OnClose(func())
	OnMessage(func(webrtc.DataChannelMessage))
	SendText(string) error
	ReadyState() webrtc.DataChannelState
	Close() error
}

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnOpen runs once, after the log has been cleared for the new session.
	OnOpen func()
	// OnClose runs once when the DataChannel closes.
	OnClose func()
	// OnError receives inbound decode failures.
	OnError func(error)
	// Origin tags every inbound append (eventlog.Change.Origin).
	Origin any
}

// Channel is bound to one DataChannel for the lifetime of one session.
type Channel struct {
	dc   DataChannel
	conn io.Closer
	log  *eventlog.Log
	opts Options
	slog *slog.Logger

	// sendMu keeps wire order equal to log order.
	sendMu sync.Mutex

	startOnce sync.Once
	openOnce  sync.Once
	closeOnce sync.Once
	closedCb  sync.Once
	// closed is set by Close. Handlers pion still delivers afterwards are
	// ignored.
	closed atomic.Bool
}

// New binds dc to log. conn, when non-nil, is closed together with dc. No
// callbacks run until Start.
func New(dc DataChannel, conn io.Closer, log *eventlog.Log, opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{dc: dc, conn: conn, log: log, opts: opts, slog: logger}
}

// Start installs the DataChannel handlers. If the channel is already open the
// open transition runs before Start returns.
func (c *Channel) Start() {
	if c == nil || c.dc == nil {
		return
	}
	c.startOnce.Do(func() {
		c.dc.OnOpen(c.handleOpen)
		c.dc.OnClose(c.handleClose)
		c.dc.OnMessage(c.handleMessage)

		// pion does not replay OnOpen for a channel that opened before the
		// handler was installed.
		if c.dc.ReadyState() == webrtc.DataChannelStateOpen {
			c.handleOpen()
		}
	})
}

// IsOpen reports whether events can be sent now.
func (c *Channel) IsOpen() bool {
	return c != nil && c.dc != nil && c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send transmits ev and appends it to the log. A missing event_id is filled
// with a fresh UUID first; the returned event carries the id that was sent.
//
// When the channel is not open the event is dropped, the log is left
// untouched and ErrChannelNotOpen is returned.
func (c *Channel) Send(ev protocol.Event) (protocol.Event, error) {
	if ev.Type == "" {
		return ev, ErrMissingType
	}
	if ev.ID == "" {
		ev = ev.WithID(protocol.NewEventID())
	}
	if c == nil || c.dc == nil || c.closed.Load() {
		return ev, ErrChannelNotOpen
	}
	c.syncOpen()

	wire, err := protocol.Encode(ev)
	if err != nil {
		return ev, fmt.Errorf("encode %s: %w", ev.Type, err)
	}

	c.sendMu.Lock()
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		c.sendMu.Unlock()
		c.opts.Metrics.Inc(metrics.EventDroppedNotOpen)
		c.slog.Warn("dropping event: data channel not open", "event_type", ev.Type, "event_id", ev.ID)
		return ev, ErrChannelNotOpen
	}
	if err := c.dc.SendText(wire); err != nil {
		c.sendMu.Unlock()
		return ev, fmt.Errorf("send %s: %w", ev.Type, err)
	}
	c.log.AppendDeferred(ev)
	c.sendMu.Unlock()

	c.opts.Metrics.Inc(metrics.EventSent)
	c.log.Flush()
	return ev, nil
}

// Close closes the DataChannel and the connection. It is idempotent and never
// fails. After Close no callback in Options runs and late inbound messages are
// dropped.
func (c *Channel) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.dc != nil {
			if err := c.dc.Close(); err != nil {
				c.slog.Debug("close data channel", "err", err)
			}
		}
		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				c.slog.Debug("close peer connection", "err", err)
			}
		}
	})
}

// syncOpen runs the open transition if the DataChannel is open but pion has
// not run OnOpen yet. pion starts OnOpen on its own goroutine after switching
// the ready state, so inbound messages and sends can get there first.
func (c *Channel) syncOpen() {
	if c.dc.ReadyState() == webrtc.DataChannelStateOpen {
		c.handleOpen()
	}
}

func (c *Channel) handleOpen() {
	if c.closed.Load() {
		return
	}
	c.openOnce.Do(func() {
		c.log.Clear()
		c.slog.Info("data channel open")
		if c.opts.OnOpen != nil {
			c.opts.OnOpen()
		}
	})
}

func (c *Channel) handleClose() {
	if c.closed.Load() {
		return
	}
	c.closedCb.Do(func() {
		c.slog.Info("data channel closed")
		if c.opts.OnClose != nil {
			c.opts.OnClose()
		}
	})
}

func (c *Channel) handleMessage(msg webrtc.DataChannelMessage) {
	if c.closed.Load() {
		c.opts.Metrics.Inc(metrics.EventDroppedClosed)
		c.slog.Debug("discarding event received after close", "bytes", len(msg.Data))
		return
	}
	ev, err := protocol.Decode(msg.Data)
	if err != nil {
		c.opts.Metrics.Inc(metrics.EventDecodeError)
		c.slog.Warn("discarding malformed event", "bytes", len(msg.Data), "err", err)
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
		return
	}
	c.syncOpen()
	c.opts.Metrics.Inc(metrics.EventReceived)
	c.log.AppendFrom(ev, c.opts.Origin)
}
