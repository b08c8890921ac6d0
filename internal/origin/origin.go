// Package origin decides which browser origins may drive the control API.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns it as
// scheme://host[:port] with default ports dropped, plus the host[:port] part.
// The opaque origin "null" is returned as-is with an empty host.
func Normalize(header string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy is an origin allow-list. An empty list allows same-host requests
// only; "*" allows everything.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

func NewPolicy(allowed []string) Policy {
	p := Policy{allowed: make(map[string]struct{}, len(allowed))}
	for _, a := range allowed {
		if a == "*" {
			p.any = true
			continue
		}
		if n, _, ok := Normalize(a); ok {
			p.allowed[n] = struct{}{}
		}
	}
	return p
}

// Allows reports whether a request carrying originHeader and addressed to
// requestHost may proceed. It returns the normalized origin for CORS replies.
func (p Policy) Allows(originHeader, requestHost string) (string, bool) {
	normalized, host, ok := Normalize(originHeader)
	if !ok {
		return "", false
	}
	if p.any {
		return normalized, true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return normalized, ok
	}

	// Same host[:port]; the scheme is ignored since a TLS-terminating proxy may
	// sit in front of the listener.
	scheme, _, found := strings.Cut(normalized, "://")
	if !found || host == "" {
		return "", false
	}
	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return "", false
	}
	return normalized, host == reqHost
}

// canonicalHost lowercases an authority, brackets IPv6 literals and drops the
// scheme's default port.
func canonicalHost(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed and are
// returned without brackets; the port is not validated.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := authority[1:end], authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	hostname, port, found := strings.Cut(authority, ":")
	if !found {
		return authority, "", true
	}
	if hostname == "" || port == "" || strings.Contains(port, ":") {
		return "", "", false
	}
	return hostname, port, true
}
