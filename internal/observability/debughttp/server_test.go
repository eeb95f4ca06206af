package debughttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "rtcore/pkg/logx"
)

func TestStatusServesJSON(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), Sources{Status: func() any { return map[string]int{"live": 3} }})
	srv := httptest.NewServer(s.Handler(Config{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["live"] != 3 {
		t.Fatalf("live = %d, want 3", got["live"])
	}
}

func TestJournalAndProfiler(t *testing.T) {
	t.Parallel()
	var gotN int
	s := New(logx.Nop(), Sources{
		Journal: func(ctx context.Context, n int) (any, error) {
			gotN = n
			return []string{"a", "b"}, nil
		},
	})
	srv := httptest.NewServer(s.Handler(Config{Prefix: "/dbg/"}))
	defer srv.Close()

	cases := []struct {
		path  string
		want  int
		wantN int
	}{
		{"/journal", http.StatusOK, defaultJournalLimit},
		{"/journal?n=7", http.StatusOK, 7},
		{"/journal?n=-1", http.StatusBadRequest, 0},
		{"/status", http.StatusNotFound, 0},
		{"/dbg/pprof/", http.StatusOK, 0},
	}
	for _, tc := range cases {
		gotN = 0
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("GET %s: status = %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
		if gotN != tc.wantN {
			t.Fatalf("GET %s: n = %d, want %d", tc.path, gotN, tc.wantN)
		}
	}
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), Sources{})
	srv := httptest.NewServer(s.Handler(Config{Token: "secret"}))
	defer srv.Close()

	cases := []struct {
		name string
		path string
		auth string
		want int
	}{
		{"missing", "/healthz", "", http.StatusUnauthorized},
		{"wrong", "/healthz?token=nope", "", http.StatusUnauthorized},
		{"query", "/healthz?token=secret", "", http.StatusOK},
		{"bearer", "/healthz", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+tc.path, nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()
	prefixes := map[string]string{
		"":        "/debug",
		"/":       "/debug",
		"pp":      "/pp",
		"/x/y/":   "/x/y",
		" /d/p/ ": "/d/p",
	}
	for in, want := range prefixes {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
	addrs := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"bad":            false,
	}
	for in, want := range addrs {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
	if !needsRestart(Config{Addr: "a"}, Config{Addr: "b"}) || needsRestart(Config{Addr: "a"}, Config{Addr: " a "}) {
		t.Fatal("needsRestart mismatch")
	}
}
