// Package callback serves the only endpoint a sandboxed program can reach:
// look and move for its own session, over a per-execution unix socket.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"labyrinth/internal/sandbox"
	appErr "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/logger"

	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 10

// Proxy forwards look and move for one session to the facade and refuses
// everything else. Forwarded requests carry the session's callback token in
// place of any identity the sandbox sent.
type Proxy struct {
	sessionID string
	token     string
	upstream  http.Handler
	listener  net.Listener
	server    *http.Server
	path      string
}

// Handler returns the filtering handler without a listener.
func Handler(sessionID, token string, upstream http.Handler) http.Handler {
	return &Proxy{sessionID: sessionID, token: token, upstream: upstream}
}

// Listen creates the socket at socketPath and starts serving.
func Listen(socketPath, sessionID, token string, upstream http.Handler) (*Proxy, error) {
	if upstream == nil {
		return nil, fmt.Errorf("callback upstream is required")
	}
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen callback socket: %w", err)
	}
	// The sandbox runs as a mapped uid, so the socket must be world-connectable.
	if err := os.Chmod(socketPath, 0o777); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod callback socket: %w", err)
	}
	p := &Proxy{
		sessionID: sessionID,
		token:     token,
		upstream:  upstream,
		listener:  ln,
		path:      socketPath,
	}
	p.server = &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn(context.Background(), "callback proxy stopped", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
	return p, nil
}

// Close stops serving and removes the socket. It is safe to call twice.
func (p *Proxy) Close() error {
	if p.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := p.server.Shutdown(ctx)
	if err != nil {
		_ = p.server.Close()
	}
	_ = os.Remove(p.path)
	p.server = nil
	return err
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !p.allowed(r.URL.Path) {
		forbid(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	r.Header.Del("X-User-Id")
	r.Header.Del(sandbox.CallbackTokenHeader)
	if p.token != "" {
		r.Header.Set(sandbox.CallbackTokenHeader, p.token)
	}
	p.upstream.ServeHTTP(w, r)
}

func (p *Proxy) allowed(path string) bool {
	prefix := "/v1/session/" + p.sessionID
	return path == prefix+"/look" || path == prefix+"/move"
}

func forbid(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    appErr.MazeSessionForbidden,
		"message": appErr.MazeSessionForbidden.Message(),
	})
}

// RemoteUpstream forwards to a facade reachable at baseURL.
func RemoteUpstream(baseURL string) (http.Handler, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse callback url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("callback url must be absolute: %q", baseURL)
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}
