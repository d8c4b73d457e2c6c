package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"labyrinth/internal/common/http/middleware"
	"labyrinth/internal/common/storage"
	"labyrinth/internal/grading/model"
	"labyrinth/internal/grading/repository"
	"labyrinth/internal/grading/service"
	"labyrinth/internal/maze"
	"labyrinth/internal/mazeclient"
	"labyrinth/internal/metrics"
	"labyrinth/internal/sandbox"
	"labyrinth/internal/sandbox/fake"
	appErr "labyrinth/pkg/errors"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memSubmissions struct {
	items map[string]*model.Submission
}

func (m *memSubmissions) Create(_ context.Context, sub *model.Submission) error {
	m.items[sub.ID] = sub.Clone()
	return nil
}

func (m *memSubmissions) GetByID(_ context.Context, id string) (*model.Submission, error) {
	sub, ok := m.items[id]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return sub.Clone(), nil
}

func (m *memSubmissions) MarkRunning(context.Context, string, time.Time) error { return nil }

func (m *memSubmissions) Finalize(_ context.Context, sub *model.Submission) error {
	m.items[sub.ID] = sub.Clone()
	return nil
}

type facade struct {
	engine *maze.Engine
	queue  *service.Queue
	router *gin.Engine
	server *httptest.Server
}

func newFacade(t *testing.T, limiter *middleware.SessionLimiter) *facade {
	t.Helper()
	collector := metrics.NewCollector()
	engine := maze.NewEngine(maze.WithObserver(collector))
	artifacts, err := repository.NewArtifactRepository(storage.NewMemoryStorage(), "labyrinth")
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	queue := service.NewQueue()
	svc := service.NewService(queue, service.Deps{
		Submissions: &memSubmissions{items: map[string]*model.Submission{}},
		Mazes:       repository.NewMazeRepository(nil, nil, nil),
		Artifacts:   artifacts,
		Engine:      engine,
		Provider:    &fake.Provider{Script: fake.Explorer(), Connect: fake.EngineConnector(engine)},
		Recorder:    collector,
	}, nil, service.Config{})
	router := NewRouter(RouterConfig{Engine: engine, Service: svc, Limiter: limiter, Metrics: collector})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &facade{engine: engine, queue: queue, router: router, server: server}
}

func (f *facade) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestClientPlaysSessionOverHTTP(t *testing.T) {
	f := newFacade(t, nil)
	ctx := context.Background()
	client := mazeclient.New(f.server.URL, "", mazeclient.WithUserID("alice"))

	st, err := client.CreateSession(ctx, "tutorial")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(st.SessionID, "sess_") || st.Turns != 0 {
		t.Fatalf("unexpected state %+v", st)
	}

	view, err := client.Look(ctx)
	if err != nil {
		t.Fatalf("look: %v", err)
	}
	if view.Current != "." {
		t.Fatalf("current = %q", view.Current)
	}
	res, err := client.Move(ctx, maze.North)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Turns != 1 {
		t.Fatalf("turns = %d", res.Turns)
	}
	after, err := client.Session(ctx)
	if err != nil || after.Turns != 1 {
		t.Fatalf("session = %+v, %v", after, err)
	}
	render, err := client.Render(ctx)
	if err != nil || !strings.Contains(render, "@") {
		t.Fatalf("render = %q, %v", render, err)
	}

	_, err = client.Move(ctx, maze.Direction("up"))
	if appErr.GetCode(err) != appErr.MazeInvalidDirection {
		t.Fatalf("expected invalid direction, got %v", err)
	}
	if _, err := client.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := client.Look(ctx); appErr.GetCode(err) != appErr.MazeSessionNotFound {
		t.Fatalf("expected not found after close, got %v", err)
	}
}

func TestLookAndMoveAreBareJSON(t *testing.T) {
	f := newFacade(t, nil)
	st, _ := f.engine.CreateSession(maze.Builtins()["tutorial"], "alice")

	rec := f.do(t, http.MethodPost, "/v1/session/"+st.SessionID+"/look", "", "X-User-Id", "alice")
	var look map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &look); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"north", "south", "east", "west", "current"} {
		if _, ok := look[key]; !ok {
			t.Fatalf("look missing %s: %s", key, rec.Body.String())
		}
	}
	if _, ok := look["code"]; ok {
		t.Fatalf("look wrapped in envelope")
	}

	rec = f.do(t, http.MethodPost, "/v1/session/"+st.SessionID+"/move", `{"direction":"NORTH"}`, "X-User-Id", "alice")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"turns":1`) {
		t.Fatalf("move = %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/v1/session/"+st.SessionID+"/move", `{}`, "X-User-Id", "alice")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty direction = %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/v1/session/sess_missing/look", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `"trace_id"`) {
		t.Fatalf("missing session = %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessionOwnership(t *testing.T) {
	f := newFacade(t, nil)
	rec := f.do(t, http.MethodPost, "/v1/session", `{"maze_id":"tutorial"}`, "X-User-Id", "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data maze.State `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	id := env.Data.SessionID

	if rec := f.do(t, http.MethodPost, "/v1/session/"+id+"/look", "", "X-User-Id", "mallory"); rec.Code != http.StatusForbidden {
		t.Fatalf("other user look = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/session/"+id+"/look", "", "X-User-Id", "alice"); rec.Code != http.StatusOK {
		t.Fatalf("owner look = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/session/"+id+"/look", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous look = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/session", `{"maze_id":"tutorial"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/session", `{"maze_id":"nowhere"}`, "X-User-Id", "alice"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown maze = %d", rec.Code)
	}
}

func TestCallbackTokenGrantsLookAndMoveOnly(t *testing.T) {
	f := newFacade(t, nil)
	st, _ := f.engine.CreateSession(maze.Builtins()["tutorial"], "")
	other, _ := f.engine.CreateSession(maze.Builtins()["tutorial"], "")
	base := "/v1/session/" + st.SessionID

	if rec := f.do(t, http.MethodPost, base+"/look", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("ownerless session open without token: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, base+"/look", "", "X-User-Id", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("empty user id accepted: %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, base+"/look", "", sandbox.CallbackTokenHeader, st.CallbackToken); rec.Code != http.StatusOK {
		t.Fatalf("token look = %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, base+"/move", `{"direction":"south"}`, sandbox.CallbackTokenHeader, st.CallbackToken); rec.Code != http.StatusOK {
		t.Fatalf("token move = %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, base+"/look", "", sandbox.CallbackTokenHeader, other.CallbackToken); rec.Code != http.StatusForbidden {
		t.Fatalf("token of another session accepted: %d", rec.Code)
	}
	// A wrong token is not rescued by a matching user id.
	owned, _ := f.engine.CreateSession(maze.Builtins()["tutorial"], "alice")
	if rec := f.do(t, http.MethodPost, "/v1/session/"+owned.SessionID+"/look", "", "X-User-Id", "alice", sandbox.CallbackTokenHeader, "forged"); rec.Code != http.StatusForbidden {
		t.Fatalf("forged token accepted: %d", rec.Code)
	}
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, base},
		{http.MethodGet, base + "/render"},
		{http.MethodDelete, base},
	} {
		if rec := f.do(t, tc.method, tc.path, "", sandbox.CallbackTokenHeader, st.CallbackToken); rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s with token = %d", tc.method, tc.path, rec.Code)
		}
	}
	if info, _ := f.engine.Info(st.SessionID); info.Turns != 1 {
		t.Fatalf("turns = %d", info.Turns)
	}
}

func TestLookMoveRateLimitCostsNoTurn(t *testing.T) {
	f := newFacade(t, middleware.NewSessionLimiter(0.001, 2))
	st, _ := f.engine.CreateSession(maze.Builtins()["tutorial"], "")
	path := "/v1/session/" + st.SessionID + "/move"

	for i := 0; i < 2; i++ {
		if rec := f.do(t, http.MethodPost, path, `{"direction":"north"}`, sandbox.CallbackTokenHeader, st.CallbackToken); rec.Code != http.StatusOK {
			t.Fatalf("move %d = %d", i, rec.Code)
		}
	}
	if rec := f.do(t, http.MethodPost, path, `{"direction":"north"}`, sandbox.CallbackTokenHeader, st.CallbackToken); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit = %d", rec.Code)
	}
	info, _ := f.engine.Info(st.SessionID)
	if info.Turns != 2 {
		t.Fatalf("limited move cost a turn: %d", info.Turns)
	}
}

func TestSubmissionEndpoints(t *testing.T) {
	f := newFacade(t, nil)

	rec := f.do(t, http.MethodPost, "/v1/validate", `{"code":"import socket\n"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"is_valid":false`) {
		t.Fatalf("validate = %d %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/v1/submit", `{"maze_id":"tutorial","code":"import os\n"}`)
	if rec.Code != http.StatusUnprocessableEntity || !strings.Contains(rec.Body.String(), "Blocked import") {
		t.Fatalf("blocked submit = %d %s", rec.Code, rec.Body.String())
	}
	if f.queue.PendingCount() != 0 {
		t.Fatalf("rejected code was queued")
	}

	rec = f.do(t, http.MethodPost, "/v1/submit", `{"maze_id":"tutorial","code":"print(look())\n"}`, "X-User-Id", "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit = %d %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data SubmitResponse `json:"data"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	if env.Data.Status != "pending" || f.queue.PendingCount() != 1 {
		t.Fatalf("submission not queued: %+v", env.Data)
	}

	rec = f.do(t, http.MethodGet, "/v1/submission/"+env.Data.SubmissionID, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"maze_id":"tutorial"`) {
		t.Fatalf("get = %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "code/") {
		t.Fatalf("artifact key leaked: %s", rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/v1/submission/ghost", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing submission = %d", rec.Code)
	}
}

func TestMazeAndOpsEndpoints(t *testing.T) {
	f := newFacade(t, nil)
	rec := f.do(t, http.MethodGet, "/v1/maze", "")
	if !strings.Contains(rec.Body.String(), `"id":"intermediate"`) || !strings.Contains(rec.Body.String(), `"id":"tutorial"`) {
		t.Fatalf("list = %s", rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/v1/maze/tutorial", ""); rec.Code != http.StatusOK {
		t.Fatalf("get maze = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/healthz", ""); !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz = %s", rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/metrics", ""); !strings.Contains(rec.Body.String(), "labyrinth_http_requests_total") {
		t.Fatalf("metrics missing request counter")
	}
}
