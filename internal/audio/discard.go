package audio

import (
	"errors"
	"io"
	"sync/atomic"
)

// DiscardSink drains the remote track and only counts what it received.
type DiscardSink struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewDiscardSink() *DiscardSink { return &DiscardSink{} }

func (s *DiscardSink) Consume(r PacketReader) error {
	for {
		pkt, _, err := r.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
	}
}

func (s *DiscardSink) Packets() uint64 { return s.packets.Load() }
func (s *DiscardSink) Bytes() uint64   { return s.bytes.Load() }

func (s *DiscardSink) Close() error { return nil }
