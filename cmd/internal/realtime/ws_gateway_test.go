package realtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://localhost", want: "localhost"},
		{in: "http://localhost:3000", want: "localhost"},
		{in: "https://App.Example.com:443", want: "app.example.com"},
		{in: "localhost:8080", want: "localhost"},
		{in: "example.com", want: "example.com"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Fatalf("originHostOnly(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"https://b.example.com",
		"http://a.example.com:3000",
		"http://a.example.com",
		"*",
	})
	want := []string{"a.example.com", "b.example.com"}
	if len(got) != len(want) {
		t.Fatalf("patterns=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("patterns=%v want=%v", got, want)
		}
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	g := NewWSGateway(nil, NewBroadcaster(nil), GatewayConfig{
		OriginRequired: true,
		AllowedOrigins: []string{"http://localhost", "https://app.example.com"},
	})

	cases := []struct {
		name   string
		origin string
		wantOK bool
	}{
		{name: "missing", origin: "", wantOK: false},
		{name: "exact", origin: "http://localhost", wantOK: true},
		{name: "port ignored", origin: "http://localhost:3000", wantOK: true},
		{name: "allowed host", origin: "https://app.example.com", wantOK: true},
		{name: "stranger", origin: "https://evil.example.net", wantOK: false},
	}

	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := g.enforceOrigin(r)
		if ok := err == nil; ok != tc.wantOK {
			t.Fatalf("%s: err=%v wantOK=%v", tc.name, err, tc.wantOK)
		}
	}
}

func TestEnforceOrigin_OptionalOrigin(t *testing.T) {
	t.Parallel()

	g := NewWSGateway(nil, NewBroadcaster(nil), GatewayConfig{
		OriginRequired: false,
		AllowedOrigins: []string{"http://localhost"},
	})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if err := g.enforceOrigin(r); err != nil {
		t.Fatalf("missing origin rejected with OriginRequired=false: %v", err)
	}
}

func TestHandleWS_RejectsBadOrigin(t *testing.T) {
	t.Parallel()

	g := NewWSGateway(nil, NewBroadcaster(nil), GatewayConfig{
		OriginRequired: true,
		AllowedOrigins: []string{"http://localhost"},
	})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example.net")
	w := httptest.NewRecorder()

	g.HandleWS(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status=%d want=%d", w.Code, http.StatusForbidden)
	}
}
