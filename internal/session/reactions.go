package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gothera/docsign2/internal/eventlog"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/protocol"
	"github.com/gothera/docsign2/internal/tools"
)

// handleLogChange runs synchronously inside log notification. It only queues
// work; sending from here would re-enter the channel. Only events received on
// the current session's channel are acted on.
func (c *Controller) handleLogChange(ch eventlog.Change) {
	if ch.Kind != eventlog.Appended || ch.Event.IsClientOriginated() {
		return
	}
	gen, ok := ch.Origin.(uint64)
	if !ok {
		return
	}
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil || sess.gen != gen {
		c.slog.Debug("ignoring event from a previous session", "event_type", ch.Event.Type, "event_id", ch.Event.ID)
		return
	}

	ev := ch.Event
	switch ev.Type {
	case protocol.TypeSessionCreated:
		c.queueSessionUpdate(sess)
	case protocol.TypeSessionUpdated:
		c.opts.Metrics.Inc(metrics.SessionConfigured)
		c.slog.Info("session configuration acknowledged", "session_id", sess.ID, "event_id", ev.ID)
	case protocol.TypeResponseDone:
		resp, err := protocol.ParseResponseDone(ev)
		if err != nil {
			c.slog.Warn("unreadable response.done", "event_id", ev.ID, "err", err)
			c.report(err)
			return
		}
		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return
		}
		if !sess.enqueue(func(ctx context.Context) { c.runToolCalls(ctx, sess, calls) }) {
			c.slog.Warn("dropping tool calls: session work queue full or closed", "response_id", resp.ID, "calls", len(calls))
		}
	case protocol.TypeError:
		msg := remoteErrorMessage(ev)
		c.slog.Warn("realtime endpoint error", "event_id", ev.ID, "message", msg)
		c.report(fmt.Errorf("%w: %s", ErrRemote, msg))
	}
}

func (c *Controller) queueSessionUpdate(sess *Session) {
	sess.enqueue(func(context.Context) { c.sendSessionUpdate(sess) })
}

// sendSessionUpdate sends the session configuration at most once per pass
// through Active.
func (c *Controller) sendSessionUpdate(sess *Session) {
	c.mu.Lock()
	if c.sess != sess || c.updateSent {
		c.mu.Unlock()
		return
	}
	c.updateSent = true
	c.mu.Unlock()

	cfg := protocol.SessionConfig{
		Tools:      tools.AsTools(c.tools),
		ToolChoice: protocol.ToolChoiceAuto,
	}
	if doc, ok := c.docs.Current(); ok && doc.Content != "" {
		cfg.Instructions = documentInstructionsPrefix + doc.Content
	}

	if err := c.sendOn(sess, protocol.SessionUpdate(cfg)); err != nil {
		c.mu.Lock()
		if c.sess == sess {
			c.updateSent = false
		}
		c.mu.Unlock()
		c.slog.Warn("session.update not sent", "err", err)
		return
	}
	c.slog.Info("session configured", "session_id", sess.ID, "tools", len(c.tools), "with_document", cfg.Instructions != "")
}

type toolOutput struct {
	OK         bool   `json:"ok"`
	DocumentID string `json:"document_id,omitempty"`
	Revision   int    `json:"revision,omitempty"`
	Error      string `json:"error,omitempty"`
}

// runToolCalls executes calls in output order on the session worker.
func (c *Controller) runToolCalls(ctx context.Context, sess *Session, calls []protocol.OutputItem) {
	executed := 0
	for _, item := range calls {
		if ctx.Err() != nil {
			return
		}
		out, ok := c.runToolCall(ctx, item)
		if !ok {
			continue
		}
		if out.OK {
			executed++
		}
		if item.CallID == "" {
			continue
		}
		payload, _ := json.Marshal(out)
		if err := c.sendOn(sess, protocol.FunctionCallOutput(item.CallID, string(payload))); err != nil {
			c.slog.Warn("function_call_output not sent", "call_id", item.CallID, "err", err)
		}
	}

	if executed > 0 && c.opts.FollowUpDelay > 0 {
		sess.after(c.opts.FollowUpDelay, func() {
			sess.enqueue(func(context.Context) { c.sendFollowUp(sess) })
		})
	}
}

// runToolCall reports ok=false when the call is skipped without a reply.
func (c *Controller) runToolCall(ctx context.Context, item protocol.OutputItem) (toolOutput, bool) {
	call, err := tools.Decode(item.Name, item.Arguments)
	if err != nil {
		c.opts.Metrics.Inc(metrics.ToolCallFailed)
		err = fmt.Errorf("%w: %s: %v", ErrToolExecution, item.Name, err)
		c.slog.Warn("tool call rejected", "call_id", item.CallID, "function", item.Name, "err", err)
		c.report(err)
		return toolOutput{Error: err.Error()}, true
	}
	if _, unknown := call.(tools.Unknown); unknown {
		c.opts.Metrics.Inc(metrics.ToolCallUnknown)
		err := fmt.Errorf("%w: %q", tools.ErrUnknownTool, item.Name)
		c.slog.Warn("skipping unknown tool", "call_id", item.CallID, "function", item.Name)
		c.report(err)
		return toolOutput{}, false
	}

	doc, err := c.executeCall(ctx, call)
	if err != nil {
		c.opts.Metrics.Inc(metrics.ToolCallFailed)
		err = fmt.Errorf("%w: %s: %v", ErrToolExecution, call.Name(), err)
		c.slog.Warn("tool call failed", "call_id", item.CallID, "function", call.Name(), "err", err)
		c.report(err)
		return toolOutput{Error: err.Error()}, true
	}

	c.opts.Metrics.Inc(metrics.ToolCallOK)
	c.slog.Info("tool call applied", "call_id", item.CallID, "function", call.Name(), "document", doc.ID, "revision", doc.Revision)
	return toolOutput{OK: true, DocumentID: doc.ID, Revision: doc.Revision}, true
}

func (c *Controller) executeCall(ctx context.Context, call tools.Call) (docResult, error) {
	if c.opts.Executor == nil {
		return docResult{}, errors.New("no document executor configured")
	}
	doc, ok := c.docs.Current()
	if !ok {
		return docResult{}, errors.New("no document loaded")
	}
	id := doc.ID
	if c.opts.ResolveDocumentID != nil {
		id = c.opts.ResolveDocumentID(doc.ID)
	}
	res, err := c.opts.Executor.Execute(ctx, id, call)
	if err != nil {
		return docResult{}, err
	}
	updated, err := c.docs.ApplyEdit(res.OutputFileName, res.Content)
	if err != nil {
		return docResult{}, err
	}
	return docResult{ID: updated.ID, Revision: updated.Revision}, nil
}

type docResult struct {
	ID       string
	Revision int
}

func (c *Controller) sendFollowUp(sess *Session) {
	if err := c.sendOn(sess, protocol.ResponseCreateWithInstructions(followUpInstructions)); err != nil {
		c.slog.Debug("follow-up not sent", "err", err)
		return
	}
	c.opts.Metrics.Inc(metrics.FollowUpSent)
}

func remoteErrorMessage(ev protocol.Event) string {
	raw, ok := ev.Field("error")
	if !ok {
		return "unknown error"
	}
	if m, ok := raw.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprint(raw)
}
