package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabelEvents is the label the realtime endpoint expects for the
// JSON event channel.
const DataChannelLabelEvents = "oai-events"

// EventsDataChannelInit returns the options for the event channel: ordered and
// fully reliable, so sends arrive in call order.
func EventsDataChannelInit() *webrtc.DataChannelInit {
	ordered := true
	return &webrtc.DataChannelInit{Ordered: &ordered}
}

func validateEventsDataChannel(dc *webrtc.DataChannel) error {
	if dc.Label() != DataChannelLabelEvents {
		return fmt.Errorf("expected label=%q (got %q)", DataChannelLabelEvents, dc.Label())
	}
	if !dc.Ordered() {
		return fmt.Errorf("events datachannel must be ordered (ordered=false)")
	}
	if dc.MaxPacketLifeTime() != nil {
		return fmt.Errorf("events datachannel must be fully reliable (maxPacketLifeTime must be unset)")
	}
	if dc.MaxRetransmits() != nil {
		return fmt.Errorf("events datachannel must be fully reliable (maxRetransmits must be unset)")
	}
	return nil
}
