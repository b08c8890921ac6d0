// Package control is the local HTTP and WebSocket API a UI uses to drive the
// realtime session and render its chat.
package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/gothera/docsign2/internal/auth"
	"github.com/gothera/docsign2/internal/channel"
	"github.com/gothera/docsign2/internal/document"
	"github.com/gothera/docsign2/internal/eventlog"
	"github.com/gothera/docsign2/internal/httpserver"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/origin"
	"github.com/gothera/docsign2/internal/protocol"
	"github.com/gothera/docsign2/internal/ratelimit"
	"github.com/gothera/docsign2/internal/session"
	"github.com/gothera/docsign2/internal/signaling"
)

const (
	maxRequestBytes = 1 << 20

	defaultWSMessagesPerSecond = 20
)

type Options struct {
	Controller *session.Controller
	// Verifier guards every route. Nil disables authentication.
	Verifier auth.Verifier
	Origins  origin.Policy

	WSMessagesPerSecond int
	Clock               ratelimit.Clock

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	opts     Options
	ctrl     *session.Controller
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WSMessagesPerSecond <= 0 {
		opts.WSMessagesPerSecond = defaultWSMessagesPerSecond
	}
	s := &Server{opts: opts, ctrl: opts.Controller, log: logger}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	protect := auth.Middleware(s.opts.Verifier, s.log, s.opts.Metrics)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, protect(h))
	}

	handle("GET /session", s.handleStatus)
	handle("POST /session/start", s.handleStart)
	handle("POST /session/stop", s.handleStop)
	handle("POST /session/text", s.handleText)
	handle("POST /session/events", s.handleSendEvent)
	handle("GET /session/events", s.handleListEvents)
	handle("GET /session/ws", s.handleWS)
	handle("PUT /document", s.handlePutDocument)
	handle("GET /document", s.handleGetDocument)
	handle("GET /document/content", s.handleGetEditedDocument)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrSessionStopped),
		errors.Is(err, channel.ErrChannelNotOpen):
		status = http.StatusConflict
	case errors.Is(err, channel.ErrMissingType),
		errors.Is(err, protocol.ErrDecode),
		errors.Is(err, document.ErrInvalidDocument):
		status = http.StatusBadRequest
	case errors.Is(err, document.ErrNoDocument):
		status = http.StatusNotFound
	case errors.Is(err, signaling.ErrCredentialFetch),
		errors.Is(err, signaling.ErrNegotiation):
		status = http.StatusBadGateway
	}
	httpserver.WriteJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// Negotiation outlives a client that stops waiting for it; Stop cancels it.
	ctx := context.WithoutCancel(r.Context())
	if err := s.ctrl.Start(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Stop()
	httpserver.WriteJSON(w, http.StatusOK, s.ctrl.Status())
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := httpserver.DecodeJSON(w, r, maxRequestBytes, &req); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		httpserver.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "text must not be empty"})
		return
	}
	if err := s.ctrl.SendText(req.Text); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		httpserver.WriteJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	ev, err := s.sendRaw(raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, newEventView(ev))
}

func (s *Server) sendRaw(raw []byte) (protocol.Event, error) {
	ev, err := protocol.Decode(raw)
	if err != nil {
		return protocol.Event{}, err
	}
	return s.ctrl.Send(ev)
}

// EventView is one log entry as the UI renders it.
type EventView struct {
	// Direction is "client" for events this process sent and "server" for
	// events from the realtime endpoint.
	Direction string         `json:"direction"`
	Text      string         `json:"text,omitempty"`
	Event     protocol.Event `json:"event"`
}

func newEventView(ev protocol.Event) EventView {
	v := EventView{Direction: "server", Event: ev}
	if ev.IsClientOriginated() {
		v.Direction = "client"
	}
	if text, ok := protocol.MessageText(ev); ok {
		v.Text = text
	}
	return v
}

type eventsResponse struct {
	View   string      `json:"view"`
	Events []EventView `json:"events"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	view := r.URL.Query().Get("view")
	var pred eventlog.Predicate
	switch view {
	case "", "chat":
		view = "chat"
		pred = eventlog.ChatMessages
	case "all":
	default:
		httpserver.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: `view must be "chat" or "all"`})
		return
	}

	events := s.ctrl.Log().DisplayList(pred)
	out := eventsResponse{View: view, Events: make([]EventView, 0, len(events))}
	for _, ev := range events {
		out.Events = append(out.Events, newEventView(ev))
	}
	httpserver.WriteJSON(w, http.StatusOK, out)
}

type documentRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := httpserver.DecodeJSON(w, r, maxRequestBytes, &req); err != nil {
		httpserver.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	docs := s.ctrl.Documents()
	if err := docs.Set(document.Document{ID: req.ID, Content: req.Content, Type: req.Type}); err != nil {
		s.writeError(w, err)
		return
	}
	doc, _ := docs.Current()
	s.log.Info("document set", "document", doc.ID, "type", doc.Type, "content_bytes", len(doc.Content))
	httpserver.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ctrl.Documents().Current()
	if !ok {
		s.writeError(w, document.ErrNoDocument)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, doc)
}

// handleGetEditedDocument returns the bytes of the latest edit.
func (s *Server) handleGetEditedDocument(w http.ResponseWriter, r *http.Request) {
	docs := s.ctrl.Documents()
	doc, ok := docs.Current()
	if !ok {
		s.writeError(w, document.ErrNoDocument)
		return
	}
	content, ok := docs.Edited()
	if !ok {
		httpserver.WriteJSON(w, http.StatusNotFound, errorResponse{Error: "document has not been edited"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(doc.ID, `"`, "")+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	o := r.Header.Get("Origin")
	if o == "" {
		return true
	}
	_, ok := s.opts.Origins.Allows(o, r.Host)
	return ok
}
