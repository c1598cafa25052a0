package origin

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func TestParseAllowList(t *testing.T) {
	got, err := ParseAllowList("HTTPS://Example.COM:443, http://localhost:5173/, *, null,")
	if err != nil {
		t.Fatalf("ParseAllowList: %v", err)
	}
	want := []string{"https://example.com", "http://localhost:5173", "*", "null"}
	if !slices.Equal(got, want) {
		t.Fatalf("ParseAllowList=%v, want %v", got, want)
	}

	if got, err := ParseAllowList("  "); err != nil || got != nil {
		t.Fatalf("ParseAllowList(blank)=(%v, %v), want (nil, nil)", got, err)
	}

	for _, raw := range []string{"ftp://example.com", "https://example.com/path", "example.com"} {
		if _, err := ParseAllowList(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestPolicy_CheckRequest(t *testing.T) {
	cases := []struct {
		name       string
		allowed    []string
		host       string
		origins    []string
		wantOK     bool
		wantOrigin string
	}{
		{name: "no origin header", host: "relay.example.com", wantOK: true},
		{name: "same host", host: "relay.example.com", origins: []string{"https://relay.example.com"}, wantOK: true, wantOrigin: "https://relay.example.com"},
		{name: "cross origin rejected by default", host: "relay.example.com", origins: []string{"https://app.example.com"}},
		{name: "cross origin allowed by list", allowed: []string{"https://app.example.com"}, host: "relay.example.com", origins: []string{"https://APP.example.com:443"}, wantOK: true, wantOrigin: "https://app.example.com"},
		{name: "wildcard", allowed: []string{"*"}, host: "relay.example.com", origins: []string{"http://anything.test:8080"}, wantOK: true, wantOrigin: "http://anything.test:8080"},
		{name: "malformed origin", allowed: []string{"*"}, host: "relay.example.com", origins: []string{"https://example.com/path"}},
		{name: "duplicate origin headers", allowed: []string{"*"}, host: "relay.example.com", origins: []string{"https://a.test", "https://b.test"}},
		{name: "null needs explicit entry", host: "relay.example.com", origins: []string{"null"}},
		{name: "null listed", allowed: []string{"null"}, host: "relay.example.com", origins: []string{"null"}, wantOK: true, wantOrigin: "null"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPolicy(tc.allowed)
			if err != nil {
				t.Fatalf("NewPolicy: %v", err)
			}
			r := httptest.NewRequest(http.MethodGet, "http://"+tc.host+"/ws", nil)
			for _, o := range tc.origins {
				r.Header.Add("Origin", o)
			}

			got, ok := p.CheckRequest(r)
			if ok != tc.wantOK || got != tc.wantOrigin {
				t.Fatalf("CheckRequest=(%q, %v), want (%q, %v)", got, ok, tc.wantOrigin, tc.wantOK)
			}
			if p.CheckOrigin(r) != tc.wantOK {
				t.Fatalf("CheckOrigin disagrees with CheckRequest")
			}
		})
	}
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy([]string{"https://a.test:443", "https://a.test", " * "})
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	if got := p.AllowedOrigins(); !slices.Equal(got, []string{"https://a.test", "*"}) {
		t.Fatalf("AllowedOrigins=%v", got)
	}
	if !p.AllowsAny() {
		t.Fatalf("AllowsAny=false, want true")
	}

	if _, err := NewPolicy([]string{"not an origin"}); err == nil {
		t.Fatalf("expected error for invalid entry")
	}

	var nilPolicy *Policy
	if _, ok := nilPolicy.Allow("https://a.test", "a.test"); !ok {
		t.Fatalf("nil policy should default to same-host")
	}
}
