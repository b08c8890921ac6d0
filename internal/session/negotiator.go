package session

import (
	"context"

	"github.com/gothera/docsign2/internal/channel"
	"github.com/gothera/docsign2/internal/signaling"
)

// Link is a negotiated connection: the events DataChannel plus whatever
// media resources back it.
type Link interface {
	Events() channel.DataChannel
	// OnDisconnect registers a callback for the connection failing or
	// closing underneath the session.
	OnDisconnect(func())
	Close() error
}

// Negotiator establishes one Link per call.
type Negotiator interface {
	Negotiate(ctx context.Context) (Link, error)
}

type NegotiatorFunc func(ctx context.Context) (Link, error)

func (f NegotiatorFunc) Negotiate(ctx context.Context) (Link, error) { return f(ctx) }

// SignalingNegotiator negotiates through a signaling.Client.
type SignalingNegotiator struct {
	Client *signaling.Client
}

func (n SignalingNegotiator) Negotiate(ctx context.Context) (Link, error) {
	conn, err := n.Client.Negotiate(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
