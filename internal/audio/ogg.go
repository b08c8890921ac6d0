package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

var opusTagsMagic = []byte("OpusTags")

// OggSource streams Ogg/Opus pages from a capture device, a named pipe or a
// file into the local track, paced at the page duration.
type OggSource struct {
	track    webrtc.TrackLocal
	out      sampleWriter
	in       io.Closer
	reader   *oggreader.OggReader
	interval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// OpenOggSource opens path for capture. Open failures and streams that are not
// Ogg/Opus are reported as ErrMediaAcquisition.
func OpenOggSource(path string) (*OggSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}
	track, err := newTrack()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src, err := newOggSource(f, track, track, frameDuration)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

func newOggSource(in io.ReadCloser, track webrtc.TrackLocal, out sampleWriter, interval time.Duration) (*OggSource, error) {
	reader, header, err := oggreader.NewWith(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}
	if header.Channels == 0 {
		return nil, fmt.Errorf("%w: ogg stream declares no channels", ErrMediaAcquisition)
	}
	return &OggSource{
		track:    track,
		out:      out,
		in:       in,
		reader:   reader,
		interval: interval,
		done:     make(chan struct{}),
	}, nil
}

func (s *OggSource) Track() webrtc.TrackLocal { return s.track }

func (s *OggSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		page, header, err := s.reader.ParseNextPage()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return err
		}
		if bytes.HasPrefix(page, opusTagsMagic) {
			continue
		}

		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / opusClockRate
		if duration <= 0 {
			duration = frameDuration
		}
		if err := s.out.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
		}
	}
}

func (s *OggSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.in.Close()
	})
	return err
}

// OggSink records the remote audio to an Ogg/Opus file.
type OggSink struct {
	mu     sync.Mutex
	writer *oggwriter.OggWriter
	closed bool
}

func NewOggSink(path string) (*OggSink, error) {
	w, err := oggwriter.New(path, opusClockRate, opusChannels)
	if err != nil {
		return nil, err
	}
	return &OggSink{writer: w}, nil
}

func newOggSinkWith(out io.Writer) (*OggSink, error) {
	w, err := oggwriter.NewWith(out, opusClockRate, opusChannels)
	if err != nil {
		return nil, err
	}
	return &OggSink{writer: w}, nil
}

func (s *OggSink) Consume(r PacketReader) error {
	for {
		pkt, _, err := r.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		err = s.writer.WriteRTP(pkt)
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
}

func (s *OggSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
