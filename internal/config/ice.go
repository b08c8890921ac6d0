package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	EnvICEServersJSON = "DOCSIGN_ICE_SERVERS_JSON"

	EnvStunURLs       = "DOCSIGN_STUN_URLS"
	EnvTurnURLs       = "DOCSIGN_TURN_URLS"
	EnvTurnUsername   = "DOCSIGN_TURN_USERNAME"
	EnvTurnCredential = "DOCSIGN_TURN_CREDENTIAL"
)

// iceSources are the raw ICE settings. JSON wins over the convenience lists.
type iceSources struct {
	JSON           string
	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

func parseICEServers(src iceSources) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(src.JSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvICEServersJSON, err)
		}
		return servers, nil
	}
	return ParseICEServersFromConvenienceEnv(src.STUNURLs, src.TURNURLs, src.TURNUsername, src.TURNCredential)
}

// urlList accepts either "urls": "stun:..." or "urls": ["stun:...", ...].
type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("urls must be a string or an array of strings")
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses a browser-style RTCIceServer array.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       urlList `json:"urls"`
		Username   string  `json:"username,omitempty"`
		Credential string  `json:"credential,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server := webrtc.ICEServer{
			URLs:     splitCommaSeparated(strings.Join(e.URLs, ",")),
			Username: strings.TrimSpace(e.Username),
		}
		if cred := strings.TrimSpace(e.Credential); cred != "" {
			server.Credential = e.Credential
		}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ParseICEServersFromConvenienceEnv builds at most one STUN and one TURN entry
// from comma-separated URL lists.
func ParseICEServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitCommaSeparated(stunURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvStunURLs, err)
		}
		servers = append(servers, server)
	}

	if urls := splitCommaSeparated(turnURLs); len(urls) > 0 {
		username := strings.TrimSpace(turnUsername)
		credential := strings.TrimSpace(turnCredential)
		if username == "" || credential == "" {
			return nil, fmt.Errorf("%s/%s: both must be set when %s is set", EnvTurnUsername, EnvTurnCredential, EnvTurnURLs)
		}
		server := webrtc.ICEServer{URLs: urls, Username: username, Credential: credential}
		if err := checkICEServer(server); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvTurnURLs, err)
		}
		servers = append(servers, server)
	}

	return servers, nil
}

func splitCommaSeparated(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func checkICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	needsCredentials := false
	for _, u := range server.URLs {
		scheme, _, ok := strings.Cut(strings.ToLower(u), ":")
		if !ok {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
		switch scheme {
		case "stun", "stuns":
		case "turn", "turns":
			needsCredentials = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if !needsCredentials {
		return nil
	}
	if server.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, _ := server.Credential.(string); strings.TrimSpace(cred) == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}
