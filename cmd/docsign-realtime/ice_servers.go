package main

import (
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/gothera/docsign2/internal/config"
)

// sessionICEServers drops TURN entries without complete credentials; pion
// refuses to build a PeerConnection with them.
func sessionICEServers(cfg config.Config) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, server := range cfg.ICEServers {
		if !hasTURNURL(server) {
			out = append(out, server)
			continue
		}
		cred, ok := server.Credential.(string)
		if strings.TrimSpace(server.Username) == "" || !ok || strings.TrimSpace(cred) == "" {
			continue
		}
		out = append(out, server)
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
