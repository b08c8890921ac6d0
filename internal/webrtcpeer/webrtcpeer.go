package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/webrtc/v4"

	"github.com/gothera/docsign2/internal/config"
)

// NewAPI builds the pion API used for every realtime session: default codecs
// (Opus for the audio tracks), the configured network restrictions and pion's
// internal logging routed into logger.
func NewAPI(cfg config.Config, logger *slog.Logger) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return nil, err
	}
	se.LoggerFactory = NewSlogLoggerFactory(logger)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	// SettingEngine has no bind address; IPFilter restricts both gathering and
	// socket binding instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	if cfg.WebRTCSCTPMaxReceiveBufferBytes > 0 {
		se.SetSCTPMaxReceiveBufferSize(uint32(cfg.WebRTCSCTPMaxReceiveBufferBytes))
	}

	return nil
}
