package signaling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/gothera/docsign2/internal/audio"
	"github.com/gothera/docsign2/internal/channel"
	"github.com/gothera/docsign2/internal/metrics"
	"github.com/gothera/docsign2/internal/webrtcpeer"
)

var (
	ErrCredentialFetch = errors.New("signaling: credential fetch failed")
	// ErrMediaAcquisition aliases the audio package sentinel so callers can
	// test against either.
	ErrMediaAcquisition = audio.ErrMediaAcquisition
	ErrNegotiation      = errors.New("signaling: negotiation failed")
)

const (
	defaultICEGatheringTimeout = 5 * time.Second
	defaultHTTPTimeout         = 30 * time.Second
	maxAnswerBytes             = 1 << 20
)

type Config struct {
	// TokenURL is the broker endpoint returning {"client_secret":{"value":...}}.
	TokenURL string
	// RealtimeURL receives the SDP offer; Model is sent as the "model" query
	// parameter.
	RealtimeURL string
	Model       string

	API                 *webrtc.API
	ICEServers          []webrtc.ICEServer
	ICEGatheringTimeout time.Duration

	// NewSource opens the local audio track. Defaults to a silent track.
	NewSource func() (audio.Source, error)
	// NewSink opens the consumer for the remote audio. Defaults to discarding.
	NewSink func() (audio.Sink, error)

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type Client struct {
	cfg Config
	log *slog.Logger
}

func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, log: logger}
}

// Connection is a negotiated peer connection with its events DataChannel and
// audio. Close releases all of it.
type Connection struct {
	peer *webrtcpeer.Peer
}

func (c *Connection) Events() channel.DataChannel { return c.peer.DataChannel() }

func (c *Connection) PeerConnection() *webrtc.PeerConnection { return c.peer.PeerConnection() }

// OnDisconnect registers fn to run once when the peer connection fails or
// closes.
func (c *Connection) OnDisconnect(fn func()) { c.peer.OnDisconnect(fn) }

func (c *Connection) Close() error { return c.peer.Close() }

// Negotiate performs one complete offer/answer exchange. It never retries. On
// failure every resource acquired so far is released.
func (c *Client) Negotiate(ctx context.Context) (*Connection, error) {
	cred, err := c.fetchCredential(ctx)
	if err != nil {
		c.cfg.Metrics.Inc(metrics.CredentialFetchFailure)
		return nil, err
	}
	c.log.Debug("fetched realtime credential", "credential", cred, "expires_at", cred.ExpiresAt)

	conn, err := c.connect(ctx, cred)
	if err != nil {
		c.cfg.Metrics.Inc(metrics.NegotiationFailure)
		return nil, err
	}
	return conn, nil
}

func (c *Client) connect(ctx context.Context, cred Credential) (*Connection, error) {
	source, err := c.newSource()
	if err != nil {
		if errors.Is(err, ErrMediaAcquisition) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}
	sink, err := c.newSink()
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("%w: open audio sink: %v", ErrNegotiation, err)
	}

	peer, err := webrtcpeer.NewPeer(c.cfg.API, c.cfg.ICEServers, source, sink, c.log)
	if err != nil {
		_ = source.Close()
		_ = sink.Close()
		return nil, fmt.Errorf("%w: %v", ErrNegotiation, err)
	}

	answer, err := c.offer(ctx, peer.PeerConnection(), cred)
	if err != nil {
		_ = peer.Close()
		return nil, err
	}
	if err := peer.PeerConnection().SetRemoteDescription(answer); err != nil {
		_ = peer.Close()
		return nil, fmt.Errorf("%w: set remote description: %v", ErrNegotiation, err)
	}

	c.log.Info("realtime session negotiated", "model", c.cfg.Model)
	return &Connection{peer: peer}, nil
}

func (c *Client) offer(ctx context.Context, pc *webrtc.PeerConnection, cred Credential) (webrtc.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: create offer: %v", ErrNegotiation, err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: set local description: %v", ErrNegotiation, err)
	}

	timer := time.NewTimer(c.iceGatheringTimeout())
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		c.log.Warn("ice gathering timed out; sending partial candidates", "timeout", c.iceGatheringTimeout())
	case <-ctx.Done():
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrNegotiation, ctx.Err())
	}

	local := pc.LocalDescription()
	if local == nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: missing local description", ErrNegotiation)
	}

	answerSDP, err := c.exchangeSDP(ctx, cred, local.SDP)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}, nil
}

func (c *Client) exchangeSDP(ctx context.Context, cred Credential, offerSDP string) (string, error) {
	endpoint, err := url.Parse(c.cfg.RealtimeURL)
	if err != nil {
		return "", fmt.Errorf("%w: realtime url: %v", ErrNegotiation, err)
	}
	if c.cfg.Model != "" {
		q := endpoint.Query()
		q.Set("model", c.cfg.Model)
		endpoint.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewBufferString(offerSDP))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNegotiation, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Value())
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: post offer: %v", ErrNegotiation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read answer: %v", ErrNegotiation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: realtime endpoint returned %d: %s", ErrNegotiation, resp.StatusCode, snippet(body))
	}
	answer := string(body)
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty answer", ErrNegotiation)
	}
	return answer, nil
}

func (c *Client) newSource() (audio.Source, error) {
	if c.cfg.NewSource != nil {
		return c.cfg.NewSource()
	}
	return audio.NewSilenceSource()
}

func (c *Client) newSink() (audio.Sink, error) {
	if c.cfg.NewSink != nil {
		return c.cfg.NewSink()
	}
	return audio.NewDiscardSink(), nil
}

func (c *Client) iceGatheringTimeout() time.Duration {
	if c.cfg.ICEGatheringTimeout <= 0 {
		return defaultICEGatheringTimeout
	}
	return c.cfg.ICEGatheringTimeout
}

func (c *Client) httpClient() *http.Client {
	if c.cfg.HTTPClient != nil {
		return c.cfg.HTTPClient
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}
