// Package mazeclient speaks the look/move session protocol over HTTP.
package mazeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"labyrinth/internal/maze"
	appErr "labyrinth/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// Client drives one maze session through the facade.
type Client struct {
	baseURL   string
	sessionID string
	userID    string
	http      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithUnixSocket sends every request over the unix socket at path. The
// host part of the base URL is then ignored.
func WithUnixSocket(path string) Option {
	return func(c *Client) {
		dialer := &net.Dialer{}
		c.http = &http.Client{
			Timeout: c.http.Timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return dialer.DialContext(ctx, "unix", path)
				},
			},
		}
	}
}

// WithUserID sets the X-User-Id header on every request.
func WithUserID(userID string) Option {
	return func(c *Client) { c.userID = userID }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// New returns a client for baseURL bound to sessionID, which may be empty
// until CreateSession is called.
func New(baseURL, sessionID string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		http:      &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the bound session id.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Look returns the neighbouring cells. It never costs a turn.
func (c *Client) Look(ctx context.Context) (maze.LookResult, error) {
	var out maze.LookResult
	err := c.do(ctx, http.MethodPost, c.sessionPath("/look"), nil, &out, false)
	return out, err
}

// Move spends one turn moving in dir.
func (c *Client) Move(ctx context.Context, dir maze.Direction) (maze.MoveResult, error) {
	var out maze.MoveResult
	body := map[string]string{"direction": string(dir)}
	err := c.do(ctx, http.MethodPost, c.sessionPath("/move"), body, &out, false)
	return out, err
}

// Session returns the current session state.
func (c *Client) Session(ctx context.Context) (maze.State, error) {
	var out maze.State
	err := c.do(ctx, http.MethodGet, c.sessionPath(""), nil, &out, true)
	return out, err
}

// Render returns the maze text with the player marked '@'.
func (c *Client) Render(ctx context.Context) (string, error) {
	var out struct {
		Render string `json:"render"`
	}
	err := c.do(ctx, http.MethodGet, c.sessionPath("/render"), nil, &out, true)
	return out.Render, err
}

// Close ends the bound session.
func (c *Client) Close(ctx context.Context) (maze.State, error) {
	var out maze.State
	err := c.do(ctx, http.MethodDelete, c.sessionPath(""), nil, &out, true)
	return out, err
}

// CreateSession starts a session on mazeID and binds the client to it.
func (c *Client) CreateSession(ctx context.Context, mazeID string) (maze.State, error) {
	var out maze.State
	body := map[string]string{"maze_id": mazeID}
	if err := c.do(ctx, http.MethodPost, "/v1/session", body, &out, true); err != nil {
		return maze.State{}, err
	}
	c.sessionID = out.SessionID
	return out, nil
}

// ListMazes returns the published mazes.
func (c *Client) ListMazes(ctx context.Context) ([]maze.Info, error) {
	var out []maze.Info
	err := c.do(ctx, http.MethodGet, "/v1/maze", nil, &out, true)
	return out, err
}

func (c *Client) sessionPath(suffix string) string {
	return "/v1/session/" + c.sessionID + suffix
}

type envelope struct {
	Code    appErr.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
}

// do sends one request. Look and move answer with bare JSON; everything else
// is wrapped in the response envelope.
func (c *Client) do(ctx context.Context, method, path string, body, out any, enveloped bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-Id", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "Connection error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body failed: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Code != 0 {
			return appErr.New(env.Code).WithMessage(env.Message).WithDetail("status", resp.StatusCode)
		}
		return appErr.Newf(appErr.InternalServerError, "API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if !enveloped {
		return json.Unmarshal(data, out)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
