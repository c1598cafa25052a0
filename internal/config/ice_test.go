package config

import "testing"

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

	servers, err := ParseICEServersJSON(raw, false)
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

	raw := `[
	  {
	    "urls": "stun:stun.example.com:3478"
	  }
	]`

	servers, err := ParseICEServersJSON(raw, false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected urls: %#v", got)
	}
}

func TestParseICEServersJSON_RejectsTURNWithoutCreds(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"]
	  }
	]`

	_, err := ParseICEServersJSON(raw, false)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseICEServersJSON_AllowsTURNWithoutCredsWhenEnabled(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["turn:turn.example.com:3478?transport=udp"]
	  }
	]`

	servers, err := ParseICEServersJSON(raw, true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("expected TURN server creds to be empty: %#v", servers[0])
	}
}

func TestICESourcesParse_URLLists(t *testing.T) {
	t.Parallel()

	servers, err := ICESources{
		STUNURLs:       "stun:stun.example.com:3478",
		TURNURLs:       "turn:turn.example.com:3478?transport=udp",
		TURNUsername:   "user",
		TURNCredential: "pass",
	}.Parse(false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("stun server should not have creds: %#v", servers[0])
	}
	if servers[1].Username != "user" {
		t.Fatalf("unexpected turn username: %q", servers[1].Username)
	}
	if servers[1].Credential.(string) != "pass" {
		t.Fatalf("unexpected turn credential: %#v", servers[1].Credential)
	}
}

func TestICESourcesParse_URLLists_AllowsTURNWithoutCredsWhenEnabled(t *testing.T) {
	t.Parallel()

	servers, err := ICESources{
		STUNURLs:       "",
		TURNURLs:       "turn:turn.example.com:3478?transport=udp",
		TURNUsername:   "",
		TURNCredential: "",
	}.Parse(true)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("expected TURN server creds to be empty: %#v", servers[0])
	}
}

func TestServerHasTURNURL(t *testing.T) {
	t.Parallel()

	servers, err := ICESources{
		STUNURLs:       "stun:stun.example.com:3478",
		TURNURLs:       "turns:turn.example.com:5349",
		TURNUsername:   "user",
		TURNCredential: "pass",
	}.Parse(false)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if ServerHasTURNURL(servers[0]) {
		t.Fatalf("stun server reported TURN url: %#v", servers[0])
	}
	if !ServerHasTURNURL(servers[1]) {
		t.Fatalf("turns server not reported as TURN: %#v", servers[1])
	}
}

func TestParseICEServersJSON_Schemes(t *testing.T) {
	t.Parallel()

	if _, err := ParseICEServersJSON(`[{"urls":"http://stun.example.com"}]`, false); err == nil {
		t.Fatalf("expected http url to be rejected")
	}
	if _, err := ParseICEServersJSON(`[{"urls":[]}]`, false); err == nil {
		t.Fatalf("expected empty urls to be rejected")
	}
	servers, err := ParseICEServersJSON(`[{"urls":"STUN:stun.example.com:3478"}]`, false)
	if err != nil {
		t.Fatalf("upper-case scheme: %v", err)
	}
	if ServerHasTURNURL(servers[0]) {
		t.Fatalf("stun server reported TURN url")
	}
}
