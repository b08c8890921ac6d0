package audio

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceSource sends a silent Opus stream. It is used when no capture device
// is configured so the remote end still sees a live send track.
type SilenceSource struct {
	track    webrtc.TrackLocal
	out      sampleWriter
	interval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewSilenceSource() (*SilenceSource, error) {
	track, err := newTrack()
	if err != nil {
		return nil, err
	}
	return newSilenceSource(track, track, frameDuration), nil
}

func newSilenceSource(track webrtc.TrackLocal, out sampleWriter, interval time.Duration) *SilenceSource {
	return &SilenceSource{track: track, out: out, interval: interval, done: make(chan struct{})}
}

func (s *SilenceSource) Track() webrtc.TrackLocal { return s.track }

func (s *SilenceSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
			if err := s.out.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				return err
			}
		}
	}
}

func (s *SilenceSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
