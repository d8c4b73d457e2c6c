package callback

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labyrinth/internal/sandbox"
)

func echoUpstream(hits *[]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits = append(*hits, r.Method+" "+r.URL.Path+" "+r.Header.Get("X-User-Id")+" "+r.Header.Get(sandbox.CallbackTokenHeader))
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
}

func TestHandlerFiltersPaths(t *testing.T) {
	var hits []string
	h := Handler("sess_abc", "tok-abc", echoUpstream(&hits))

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/v1/session/sess_abc/look", http.StatusOK},
		{http.MethodPost, "/v1/session/sess_abc/move", http.StatusOK},
		{http.MethodGet, "/v1/session/sess_abc/look", http.StatusForbidden},
		{http.MethodPost, "/v1/session/sess_other/move", http.StatusForbidden},
		{http.MethodPost, "/v1/session/sess_abc/visualize", http.StatusForbidden},
		{http.MethodPost, "/v1/session", http.StatusForbidden},
		{http.MethodGet, "/metrics", http.StatusForbidden},
		{http.MethodPost, "/v1/session/sess_abc/../sess_other/move", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		req.Header.Set("X-User-Id", "spoofed")
		req.Header.Set(sandbox.CallbackTokenHeader, "forged")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s %s: status %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
	if len(hits) != 2 {
		t.Fatalf("upstream hits = %v", hits)
	}
	for _, hit := range hits {
		if strings.Contains(hit, "spoofed") || strings.Contains(hit, "forged") {
			t.Fatalf("caller identity forwarded: %s", hit)
		}
		if !strings.HasSuffix(hit, " tok-abc") {
			t.Fatalf("session token not attached: %q", hit)
		}
	}
}

func TestHandlerWithoutTokenSendsNone(t *testing.T) {
	var hits []string
	req := httptest.NewRequest(http.MethodPost, "/v1/session/s1/look", nil)
	req.Header.Set(sandbox.CallbackTokenHeader, "forged")
	Handler("s1", "", echoUpstream(&hits)).ServeHTTP(httptest.NewRecorder(), req)
	if len(hits) != 1 || strings.Contains(hits[0], "forged") {
		t.Fatalf("hits = %q", hits)
	}
}

func TestListenServesOverUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "cb")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "maze.sock")

	var hits []string
	p, err := Listen(sock, "sess_abc", "tok-abc", echoUpstream(&hits))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", sock)
		},
	}}
	resp, err := client.Post("http://sandbox/v1/session/sess_abc/look", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != `{"ok":true}` {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Fatalf("socket not removed: %v", err)
	}
}

func TestRemoteUpstreamForwards(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	defer backend.Close()

	up, err := RemoteUpstream(backend.URL)
	if err != nil {
		t.Fatalf("remote upstream: %v", err)
	}
	rec := httptest.NewRecorder()
	Handler("s1", "tok-1", up).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/session/s1/move", strings.NewReader(`{"direction":"north"}`)))
	if rec.Body.String() != "/v1/session/s1/move" {
		t.Fatalf("forwarded path = %q", rec.Body.String())
	}

	if _, err := RemoteUpstream("not-a-url"); err == nil {
		t.Fatalf("expected relative url to be rejected")
	}
}
