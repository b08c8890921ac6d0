package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/gothera/docsign2/internal/audio"
)

// Peer owns the client-side PeerConnection of one realtime session: the local
// audio send track, the remote audio sink and the "oai-events" DataChannel.
//
// A Peer is single use. Close releases every resource it acquired, including
// the audio source and sink it was given.
type Peer struct {
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	source audio.Source
	sink   audio.Sink
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	onDisconnect []func()
	remoteAudio  bool
	disconnected bool

	close    sync.Once
	closeErr error
}

// NewPeer creates the PeerConnection, adds the local audio track (or a
// receive-only audio transceiver when source is nil) and creates the events
// DataChannel. The caller drives the offer/answer exchange through
// PeerConnection.
func NewPeer(api *webrtc.API, iceServers []webrtc.ICEServer, source audio.Source, sink audio.Sink, logger *slog.Logger) (*Peer, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		pc:     pc,
		source: source,
		sink:   sink,
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if source != nil {
		sender, err := pc.AddTrack(source.Track())
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("add audio track: %w", err)
		}
		// RTCP must be drained for interceptors (NACK, reports) to run.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	}

	pc.OnTrack(p.handleTrack)

	dc, err := pc.CreateDataChannel(DataChannelLabelEvents, EventsDataChannelInit())
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("create %s datachannel: %w", DataChannelLabelEvents, err)
	}
	if err := validateEventsDataChannel(dc); err != nil {
		_ = p.Close()
		return nil, err
	}
	p.dc = dc

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.fireDisconnect(state)
		}
	})

	if source != nil {
		go func() {
			if err := source.Run(ctx); err != nil && !errors.Is(err, io.EOF) {
				p.log.Warn("local audio source stopped", "err", err)
			}
		}()
	}

	return p, nil
}

func (p *Peer) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		p.log.Debug("ignoring remote track", "kind", track.Kind().String())
		return
	}
	p.mu.Lock()
	first := !p.remoteAudio
	p.remoteAudio = true
	p.mu.Unlock()
	if !first {
		p.log.Debug("ignoring additional remote audio track", "track_id", track.ID())
		return
	}
	if p.sink == nil {
		return
	}
	p.log.Info("remote audio track attached", "codec", track.Codec().MimeType)
	if err := p.sink.Consume(track); err != nil {
		p.log.Warn("remote audio sink stopped", "err", err)
	}
}

func (p *Peer) fireDisconnect(state webrtc.PeerConnectionState) {
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	callbacks := append([]func(){}, p.onDisconnect...)
	p.mu.Unlock()

	p.log.Info("peer connection ended", "state", state.String())
	for _, fn := range callbacks {
		fn()
	}
}

func (p *Peer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

func (p *Peer) DataChannel() *webrtc.DataChannel {
	return p.dc
}

// OnDisconnect registers fn to run once when the connection fails or closes.
// If that already happened, fn runs before OnDisconnect returns.
func (p *Peer) OnDisconnect(fn func()) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	if p.disconnected {
		p.mu.Unlock()
		fn()
		return
	}
	p.onDisconnect = append(p.onDisconnect, fn)
	p.mu.Unlock()
}

// HasRemoteAudio reports whether the remote audio track has been attached.
func (p *Peer) HasRemoteAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteAudio
}

func (p *Peer) Close() error {
	p.close.Do(func() {
		p.cancel()
		var errs []error
		if p.source != nil {
			errs = append(errs, p.source.Close())
		}
		if p.dc != nil {
			errs = append(errs, p.dc.Close())
		}
		errs = append(errs, p.pc.Close())
		if p.sink != nil {
			errs = append(errs, p.sink.Close())
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
