package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"labyrinth/internal/common/cache"
	"labyrinth/internal/common/storage"
	"labyrinth/internal/grading/model"
	"labyrinth/internal/grading/repository"
	"labyrinth/internal/maze"
	"labyrinth/internal/sandbox"
	"labyrinth/internal/sandbox/fake"
	appErr "labyrinth/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const solverCode = "direction = 'north'\nprint(look())\nmove(direction)\n"

type memSubmissions struct {
	mu    sync.Mutex
	items map[string]*model.Submission
	// getHook runs before GetByID when set.
	getHook func(id string)
	// createErr fails every Create when set.
	createErr error
}

func newMemSubmissions() *memSubmissions {
	return &memSubmissions{items: make(map[string]*model.Submission)}
}

func (m *memSubmissions) Create(_ context.Context, sub *model.Submission) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[sub.ID]; ok {
		return appErr.New(appErr.RecordAlreadyExists)
	}
	m.items[sub.ID] = sub.Clone()
	return nil
}

func (m *memSubmissions) GetByID(_ context.Context, id string) (*model.Submission, error) {
	if m.getHook != nil {
		m.getHook(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.items[id]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return sub.Clone(), nil
}

func (m *memSubmissions) MarkRunning(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.items[id]
	if !ok || sub.Status.Terminal() {
		return appErr.New(appErr.SubmissionFinalized)
	}
	sub.Status = model.StatusRunning
	sub.StartedAt = &at
	return nil
}

func (m *memSubmissions) Finalize(_ context.Context, sub *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[sub.ID]
	if !ok || cur.Status.Terminal() {
		return appErr.New(appErr.SubmissionFinalized)
	}
	m.items[sub.ID] = sub.Clone()
	return nil
}

func (m *memSubmissions) get(t *testing.T, id string) *model.Submission {
	t.Helper()
	sub, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return sub
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.Submission
}

func (p *recordingPublisher) PublishFinalStatus(_ context.Context, sub *model.Submission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, sub.Clone())
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type countingRecorder struct {
	mu         sync.Mutex
	finished   map[model.Status]int
	rejected   int
	findings   int
	executions int
}

func (r *countingRecorder) SubmissionFinished(s model.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = make(map[model.Status]int)
	}
	r.finished[s]++
}
func (r *countingRecorder) ValidationRejected() { r.mu.Lock(); r.rejected++; r.mu.Unlock() }
func (r *countingRecorder) EscapeFindings(n int) {
	r.mu.Lock()
	r.findings += n
	r.mu.Unlock()
}
func (r *countingRecorder) SandboxExecuted(string, string, time.Duration) {
	r.mu.Lock()
	r.executions++
	r.mu.Unlock()
}
func (r *countingRecorder) QueueDepth(int, int) {}

type harness struct {
	queue     *Queue
	subs      *memSubmissions
	artifacts *repository.ArtifactRepository
	status    *repository.StatusRepository
	events    *recordingPublisher
	recorder  *countingRecorder
	engine    *maze.Engine
	provider  *fake.Provider
	// reporter replaces provider when set.
	reporter sandbox.Provider
	redis    *miniredis.Miniredis
	cache    *cache.RedisCache
	closed   []string
	closedMu sync.Mutex
}

func newHarness(t *testing.T, script fake.Script) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	artifacts, err := repository.NewArtifactRepository(storage.NewMemoryStorage(), "labyrinth")
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	engine := maze.NewEngine()
	return &harness{
		queue:     NewQueue(),
		subs:      newMemSubmissions(),
		artifacts: artifacts,
		status:    repository.NewStatusRepository(c, time.Hour),
		events:    &recordingPublisher{},
		recorder:  &countingRecorder{},
		engine:    engine,
		provider:  &fake.Provider{Script: script, Connect: fake.EngineConnector(engine)},
		redis:     mr,
		cache:     c,
	}
}

func (h *harness) deps() Deps {
	var provider sandbox.Provider = h.provider
	if h.reporter != nil {
		provider = h.reporter
	}
	return Deps{
		Submissions: h.subs,
		Mazes:       repository.NewMazeRepository(nil, nil, nil),
		Artifacts:   h.artifacts,
		Status:      h.status,
		Events:      h.events,
		Engine:      h.engine,
		Provider:    provider,
		Recorder:    h.recorder,
	}
}

func (h *harness) workerConfig() WorkerConfig {
	limits := sandbox.DefaultLimits()
	limits.TimeoutSeconds = 1
	return WorkerConfig{
		CallbackURL: "http://unused",
		Limits:      limits,
		OnSessionClosed: func(id string) {
			h.closedMu.Lock()
			h.closed = append(h.closed, id)
			h.closedMu.Unlock()
		},
	}
}

func (h *harness) worker() *Worker {
	return NewWorker(0, h.queue, h.deps(), h.workerConfig())
}

// seed stores a pending submission with code, bypassing admission.
func (h *harness) seed(t *testing.T, id, mazeID, code string) {
	t.Helper()
	ctx := context.Background()
	sub := &model.Submission{ID: id, UserID: "alice", MazeID: mazeID, Status: model.StatusPending, CodeKey: model.CodeKey(id), CreatedAt: time.Now()}
	if code != "" {
		if err := h.artifacts.PutCode(ctx, sub.CodeKey, code); err != nil {
			t.Fatalf("put code: %v", err)
		}
	}
	if err := h.subs.Create(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
}

// grade runs one submission through a worker as if it had been dequeued.
func (h *harness) grade(t *testing.T, ctx context.Context, id string) *model.Submission {
	t.Helper()
	if !h.queue.Enqueue(id) {
		t.Fatalf("enqueue %s refused", id)
	}
	got, err := h.queue.Dequeue(ctx)
	if err != nil || got != id {
		t.Fatalf("dequeue = %q, %v", got, err)
	}
	h.worker().Process(ctx, id)
	if h.queue.ProcessingCount() != 0 {
		t.Fatalf("processing slot not released")
	}
	return h.subs.get(t, id)
}

// reportingProvider returns a fixed result without touching the session.
type reportingProvider struct {
	result sandbox.Result
}

func (p reportingProvider) Name() string { return "reporting" }

func (p reportingProvider) Execute(context.Context, sandbox.Request) (sandbox.Result, error) {
	return p.result, nil
}

// understatingProvider runs inner and then claims a single turn.
type understatingProvider struct {
	inner sandbox.Provider
}

func (p understatingProvider) Name() string { return p.inner.Name() }

func (p understatingProvider) Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error) {
	res, err := p.inner.Execute(ctx, req)
	res.Turns = 1
	return res, err
}

// tutorialSolution walks the built-in tutorial maze in 15 moves.
func tutorialSolution() fake.Script {
	var dirs []maze.Direction
	for i := 0; i < 7; i++ {
		dirs = append(dirs, maze.South)
	}
	for i := 0; i < 8; i++ {
		dirs = append(dirs, maze.East)
	}
	return fake.Moves(dirs...)
}
