package config

// minSCTPReceiveBufferBytes is the smallest SCTP receive buffer pion/sctp
// accepts during association setup.
const minSCTPReceiveBufferBytes = 1500

// recommendedSCTPReceiveBufferBytes is the smallest cap that still fits a large
// response.done event (full transcript plus function call arguments) twice.
const recommendedSCTPReceiveBufferBytes = 256 << 10

// SCTPReceiveBufferTooSmall reports whether a configured cap is likely to stall
// the association on large inbound events.
func (c Config) SCTPReceiveBufferTooSmall() bool {
	return c.WebRTCSCTPMaxReceiveBufferBytes > 0 && c.WebRTCSCTPMaxReceiveBufferBytes < recommendedSCTPReceiveBufferBytes
}
