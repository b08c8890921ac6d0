package config

import (
	"strings"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["stun:stun.example.com:3478"]
	  },
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"],
	    "username": "user",
	    "credential": "pass"
	  }
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	cred, ok := servers[1].Credential.(string)
	if !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_SupportsSingleStringURLs(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersJSON(`[{"urls": "stun:stun.example.com:3478"}]`)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 || len(servers[0].URLs) != 1 {
		t.Fatalf("unexpected servers: %#v", servers)
	}
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"turn without creds": `[{"urls": ["turn:turn.example.com:3478"]}]`,
		"unknown scheme":     `[{"urls": ["http://example.com"]}]`,
		"no urls":            `[{"urls": []}]`,
		"bad urls type":      `[{"urls": 5}]`,
		"not an array":       `{"urls": "stun:x"}`,
	}
	for name, raw := range cases {
		raw := raw
		t.Run(name, func(t *testing.T) {
			if _, err := ParseICEServersJSON(raw); err == nil {
				t.Fatalf("expected error for %s", raw)
			}
		})
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:stun1.example.com:3478, stun:stun2.example.com:3478",
		"turn:turn.example.com:3478",
		"user",
		"pass",
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 2 || got[1] != "stun:stun2.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if servers[1].Username != "user" {
		t.Fatalf("unexpected turn username: %q", servers[1].Username)
	}

	_, err = ParseICEServersFromConvenienceEnv("", "turn:turn.example.com:3478", "user", "")
	if err == nil || !strings.Contains(err.Error(), EnvTurnCredential) {
		t.Fatalf("err=%v, want mention of %s", err, EnvTurnCredential)
	}
}

func TestLoad_InvalidICEServersSurfaceAsConfigError(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		EnvICEServersJSON: `[{"urls": ["turn:turn.example.com"]}]`,
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICEConfigError")
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%v, want none", cfg.ICEServers)
	}
}
