package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in         string
		normalized string
		host       string
		ok         bool
	}{
		{"HTTPS://Example.COM:443", "https://example.com", "example.com", true},
		{"http://localhost:5173/", "http://localhost:5173", "localhost:5173", true},
		{"http://[::1]:8088", "http://[::1]:8088", "[::1]:8088", true},
		{"null", "null", "", true},
		{"", "", "", false},
		{"ftp://example.com", "", "", false},
		{"https://example.com/path", "", "", false},
		{"https://example.com/?q=1", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com/#frag", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:99999", "", "", false},
		{"http://::1", "", "", false},
	}
	for _, tt := range tests {
		normalized, host, ok := Normalize(tt.in)
		if ok != tt.ok || normalized != tt.normalized || host != tt.host {
			t.Fatalf("Normalize(%q)=(%q,%q,%v), want (%q,%q,%v)", tt.in, normalized, host, ok, tt.normalized, tt.host, tt.ok)
		}
	}
}

func TestPolicy_SameHostDefault(t *testing.T) {
	p := NewPolicy(nil)

	if _, ok := p.Allows("http://localhost:8088", "localhost:8088"); !ok {
		t.Fatalf("same host rejected")
	}
	if _, ok := p.Allows("https://app.example.com", "app.example.com:443"); !ok {
		t.Fatalf("default port not treated as equivalent")
	}
	if _, ok := p.Allows("https://app.example.com", "app.example.com"); !ok {
		t.Fatalf("scheme should not matter behind a proxy")
	}
	if _, ok := p.Allows("http://evil.example", "localhost:8088"); ok {
		t.Fatalf("cross-host origin allowed")
	}
	if _, ok := p.Allows("null", "localhost:8088"); ok {
		t.Fatalf("null origin allowed under same-host policy")
	}
}

func TestPolicy_AllowList(t *testing.T) {
	p := NewPolicy([]string{"https://ui.example.com:443", "http://localhost:5173"})

	got, ok := p.Allows("HTTPS://UI.example.com", "api.example.com")
	if !ok || got != "https://ui.example.com" {
		t.Fatalf("Allows=(%q,%v)", got, ok)
	}
	if _, ok := p.Allows("http://localhost:5174", "localhost:5174"); ok {
		t.Fatalf("allow-list should replace the same-host default")
	}
}

func TestPolicy_Wildcard(t *testing.T) {
	p := NewPolicy([]string{"*"})
	if _, ok := p.Allows("https://anything.example", "localhost"); !ok {
		t.Fatalf("wildcard rejected")
	}
	if _, ok := p.Allows("not an origin", "localhost"); ok {
		t.Fatalf("malformed origin accepted")
	}
}
