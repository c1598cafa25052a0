package origin

import (
	"net/url"
	"strings"
	"testing"
)

func FuzzNormalizeHeader(f *testing.F) {
	for _, seed := range []string{
		"HTTPS://Example.COM:443",
		"http://010.0.0.1",
		"http://[::FFFF:192.0.2.1]",
		"null",
		"",
		"   ",
		"ftp://example.com",
		"https://example.com/path",
		"https://example.com?query",
		"https://example.com,https://evil.example.com",
	} {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, header string) {
		normalized, host, ok := NormalizeHeader(header)
		if !ok {
			return
		}
		if strings.ContainsAny(normalized, " \t\r\n?#") {
			t.Fatalf("normalized=%q contains whitespace or delimiters", normalized)
		}
		if normalized == Null {
			if host != "" {
				t.Fatalf("null origin host=%q, want empty", host)
			}
			return
		}

		wantHost := strings.TrimPrefix(strings.TrimPrefix(normalized, "http://"), "https://")
		if host != wantHost {
			t.Fatalf("host=%q, want %q (normalized=%q)", host, wantHost, normalized)
		}
		u, err := url.Parse(normalized)
		if err != nil {
			t.Fatalf("url.Parse(%q): %v", normalized, err)
		}
		if u.Host != host || u.Path != "" || u.User != nil {
			t.Fatalf("normalized=%q parsed as %#v", normalized, u)
		}

		again, againHost, ok := NormalizeHeader(normalized)
		if !ok || again != normalized || againHost != host {
			t.Fatalf("not idempotent: %q -> ok=%v %q %q", normalized, ok, again, againHost)
		}
	})
}

func FuzzPolicyAllow(f *testing.F) {
	f.Add("https://app.example.com", "app.example.com:443", "")
	f.Add("http://[::FFFF:192.0.2.1]", "[::FFFF:192.0.2.1]", "")
	f.Add("null", "app.example.com", "")
	f.Add("null", "app.example.com", "null")
	f.Add("https://good.example.com", "app.example.com", "*")

	f.Fuzz(func(t *testing.T, header, requestHost, allowList string) {
		var p *Policy
		if entries, err := ParseAllowList(allowList); err == nil {
			p, err = NewPolicy(entries)
			if err != nil {
				t.Fatalf("NewPolicy(%q) rejected parsed entries: %v", entries, err)
			}
		}

		got, ok := p.Allow(header, requestHost)
		normalized, originHost, valid := NormalizeHeader(header)
		if !valid {
			if ok {
				t.Fatalf("invalid origin %q allowed", header)
			}
			return
		}
		if ok && got != normalized {
			t.Fatalf("Allow returned %q, want %q", got, normalized)
		}
		if p.AllowsAny() && !ok {
			t.Fatalf("wildcard policy rejected %q", normalized)
		}
		if len(p.AllowedOrigins()) == 0 && normalized != Null {
			if _, ok := p.Allow(header, originHost); !ok {
				t.Fatalf("same-host policy rejected %q for its own host %q", normalized, originHost)
			}
		}
	})
}
