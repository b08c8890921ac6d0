package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
)

type recordingWriter struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (w *recordingWriter) WriteSample(s media.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, s)
	return nil
}

func (w *recordingWriter) snapshot() []media.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]media.Sample(nil), w.samples...)
}

type packetQueue struct {
	packets []*rtp.Packet
}

func (q *packetQueue) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(q.packets) == 0 {
		return nil, nil, io.EOF
	}
	p := q.packets[0]
	q.packets = q.packets[1:]
	return p, nil, nil
}

func opusPackets(n int) []*rtp.Packet {
	out := make([]*rtp.Packet, n)
	for i := range out {
		out[i] = &rtp.Packet{
			Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: uint16(i), Timestamp: uint32(960 * (i + 1))},
			Payload: []byte{0xfc, byte(i), 0x01},
		}
	}
	return out
}

func TestSilenceSource_WritesUntilClosed(t *testing.T) {
	w := &recordingWriter{}
	src := newSilenceSource(nil, w, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(w.snapshot()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("no samples written")
		}
		time.Sleep(time.Millisecond)
	}
	_ = src.Close()
	_ = src.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Close")
	}

	for _, s := range w.snapshot() {
		if !bytes.Equal(s.Data, opusSilence) || s.Duration != frameDuration {
			t.Fatalf("unexpected sample: %+v", s)
		}
	}
}

func TestSilenceSource_StopsOnContext(t *testing.T) {
	src := newSilenceSource(nil, &recordingWriter{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := src.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestOggSinkAndSource_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink, err := newOggSinkWith(&buf)
	if err != nil {
		t.Fatalf("newOggSinkWith: %v", err)
	}
	packets := opusPackets(3)
	if err := sink.Consume(&packetQueue{packets: append([]*rtp.Packet(nil), packets...)}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w := &recordingWriter{}
	src, err := newOggSource(io.NopCloser(bytes.NewReader(buf.Bytes())), nil, w, time.Millisecond)
	if err != nil {
		t.Fatalf("newOggSource: %v", err)
	}
	if err := src.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := w.snapshot()
	if len(got) != len(packets) {
		t.Fatalf("samples=%d, want %d", len(got), len(packets))
	}
	for i, s := range got {
		if !bytes.Equal(s.Data, packets[i].Payload) {
			t.Fatalf("sample %d data=%x, want %x", i, s.Data, packets[i].Payload)
		}
		if s.Duration <= 0 {
			t.Fatalf("sample %d has no duration", i)
		}
	}
	if got[1].Duration != frameDuration {
		t.Fatalf("steady-state duration=%v, want %v", got[1].Duration, frameDuration)
	}
}

func TestOpenOggSource_MissingDevice(t *testing.T) {
	_, err := OpenOggSource(filepath.Join(t.TempDir(), "mic.ogg"))
	if !errors.Is(err, ErrMediaAcquisition) {
		t.Fatalf("err=%v, want ErrMediaAcquisition", err)
	}
}

func TestNewOggSource_NotOgg(t *testing.T) {
	_, err := newOggSource(io.NopCloser(bytes.NewReader([]byte("not an ogg stream at all"))), nil, &recordingWriter{}, time.Millisecond)
	if !errors.Is(err, ErrMediaAcquisition) {
		t.Fatalf("err=%v, want ErrMediaAcquisition", err)
	}
}

func TestDiscardSink_Counts(t *testing.T) {
	sink := NewDiscardSink()
	if err := sink.Consume(&packetQueue{packets: opusPackets(4)}); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if sink.Packets() != 4 || sink.Bytes() != 12 {
		t.Fatalf("packets=%d bytes=%d", sink.Packets(), sink.Bytes())
	}
}

func TestOggSink_ReaderError(t *testing.T) {
	sink, err := newOggSinkWith(io.Discard)
	if err != nil {
		t.Fatalf("newOggSinkWith: %v", err)
	}
	boom := errors.New("boom")
	if err := sink.Consume(failingReader{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
}

type failingReader struct{ err error }

func (f failingReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, f.err
}
