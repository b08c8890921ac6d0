// Package audio provides the local microphone track and the sink for the
// remote assistant audio.
package audio

import (
	"context"
	"errors"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrMediaAcquisition is returned when the capture device cannot be opened.
var ErrMediaAcquisition = errors.New("audio: media acquisition failed")

const (
	opusClockRate = 48000
	opusChannels  = 2
	frameDuration = 20 * time.Millisecond

	trackID  = "audio"
	streamID = "docsign"
)

// OpusCapability is the codec of the local track.
var OpusCapability = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: opusClockRate,
	Channels:  opusChannels,
}

// Source produces the local audio track.
type Source interface {
	Track() webrtc.TrackLocal
	// Run writes samples until ctx is done, the source is closed or the
	// capture stream ends.
	Run(ctx context.Context) error
	Close() error
}

// PacketReader is satisfied by *webrtc.TrackRemote.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink consumes the remote audio track.
type Sink interface {
	// Consume reads packets until r fails. io.EOF ends it cleanly.
	Consume(r PacketReader) error
	Close() error
}

type sampleWriter interface {
	WriteSample(media.Sample) error
}

func newTrack() (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(OpusCapability, trackID, streamID)
}
