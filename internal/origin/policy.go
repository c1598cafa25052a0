package origin

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// Policy decides which browser origins may use the relay.
//
// An empty allow list means same-host only. "*" allows every origin and "null"
// must be listed explicitly to admit opaque origins.
type Policy struct {
	allowed []string
}

// ParseAllowList parses a comma-separated ALLOWED_ORIGINS value into
// normalized entries.
func ParseAllowList(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}

// NewPolicy validates allowed, which may hold raw or normalized origins.
func NewPolicy(allowed []string) (*Policy, error) {
	p := &Policy{}
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			p.allowed = append(p.allowed, entry)
			continue
		}
		normalized, _, ok := NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid allowed origin %q", entry)
		}
		if !slices.Contains(p.allowed, normalized) {
			p.allowed = append(p.allowed, normalized)
		}
	}
	return p, nil
}

// AllowedOrigins returns the normalized allow list (nil for same-host only).
func (p *Policy) AllowedOrigins() []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.allowed)
}

// AllowsAny reports whether the allow list contains "*".
func (p *Policy) AllowsAny() bool {
	return p != nil && slices.Contains(p.allowed, "*")
}

// Allow checks a raw Origin header against requestHost and returns the
// normalized origin when it is permitted.
func (p *Policy) Allow(originHeader, requestHost string) (string, bool) {
	normalized, host, ok := NormalizeHeader(originHeader)
	if !ok {
		return "", false
	}
	var allowed []string
	if p != nil {
		allowed = p.allowed
	}
	if !IsAllowed(normalized, host, requestHost, allowed) {
		return "", false
	}
	return normalized, true
}

// CheckRequest applies the policy to r. Requests without an Origin header
// come from non-browser clients and are allowed with an empty origin. More
// than one Origin header is rejected.
func (p *Policy) CheckRequest(r *http.Request) (string, bool) {
	values := r.Header.Values("Origin")
	switch len(values) {
	case 0:
		return "", true
	case 1:
	default:
		return "", false
	}
	if strings.TrimSpace(values[0]) == "" {
		return "", true
	}
	return p.Allow(values[0], r.Host)
}

// CheckOrigin has the signature of websocket.Upgrader.CheckOrigin.
func (p *Policy) CheckOrigin(r *http.Request) bool {
	_, ok := p.CheckRequest(r)
	return ok
}
