package repository

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"labyrinth/internal/common/cache"
	"labyrinth/internal/common/db"
	"labyrinth/internal/common/mq"
	"labyrinth/internal/common/storage"
	"labyrinth/internal/grading/model"
	"labyrinth/internal/maze"
	"labyrinth/internal/sandbox"
	appErr "labyrinth/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func newMock(t *testing.T) (db.Database, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return db.NewMySQLWithDB(conn), mock
}

func TestStatusRepositoryRoundTrip(t *testing.T) {
	c, mr := newCache(t)
	repo := NewStatusRepository(c, time.Hour)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "missing"); appErr.GetCode(err) != appErr.CacheMiss {
		t.Fatalf("expected cache miss, got %v", err)
	}

	score := 12
	sub := &model.Submission{ID: "sub-1", MazeID: "tutorial", Status: model.StatusCompleted, Score: &score}
	if err := repo.Save(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL(statusKeyPrefix + "sub-1"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}
	got, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusCompleted || got.Score == nil || *got.Score != 12 {
		t.Fatalf("unexpected %+v", got)
	}

	mr.Set(statusKeyPrefix+"bad", "{")
	if _, err := repo.Get(ctx, "bad"); appErr.GetCode(err) != appErr.CacheError {
		t.Fatalf("expected decode error, got %v", err)
	}
}

type recordingProducer struct {
	topic string
	msg   *mq.Message
	err   error
}

func (p *recordingProducer) Publish(_ context.Context, topic string, m *mq.Message) error {
	p.topic, p.msg = topic, m
	return p.err
}

func TestPublishFinalStatus(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewMQStatusEventPublisher(prod, "grading.status")
	pub.now = func() time.Time { return time.Unix(50, 0) }

	sub := &model.Submission{ID: "sub-1", Status: model.StatusFailed, ErrorMessage: "Maze not completed"}
	if err := pub.PublishFinalStatus(context.Background(), sub); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if prod.topic != "grading.status" || prod.msg.ID != "sub-1" || prod.msg.Headers["status"] != "failed" {
		t.Fatalf("unexpected message %+v on %s", prod.msg, prod.topic)
	}
	if !strings.Contains(string(prod.msg.Body), `"type":"final"`) || !strings.Contains(string(prod.msg.Body), `"created_at":50`) {
		t.Fatalf("body = %s", prod.msg.Body)
	}

	prod.err = errors.New("broker down")
	if err := pub.PublishFinalStatus(context.Background(), sub); appErr.GetCode(err) != appErr.ServiceUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if err := NewMQStatusEventPublisher(prod, "").PublishFinalStatus(context.Background(), sub); appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("expected missing topic error, got %v", err)
	}
}

func TestSubmissionCreateAndGet(t *testing.T) {
	database, mock := newMock(t)
	repo := NewSubmissionRepository(database)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec("INSERT INTO submissions").
		WithArgs("sub-1", "alice", "tutorial", "pending", "code/sub-1.py", created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	err := repo.Create(ctx, &model.Submission{ID: "sub-1", UserID: "alice", MazeID: "tutorial", CodeKey: "code/sub-1.py", CreatedAt: created})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cols := []string{"submission_id", "user_id", "maze_id", "status", "score", "error_message", "code_key", "transcript_key", "created_at", "started_at", "completed_at"}
	mock.ExpectQuery("SELECT submission_id").WithArgs("sub-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("sub-1", "alice", "tutorial", "completed", int64(9), nil, "code/sub-1.py", "transcripts/sub-1.json.zst", created, created, created))
	got, err := repo.GetByID(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusCompleted || got.Score == nil || *got.Score != 9 || got.CompletedAt == nil || got.TranscriptKey == "" {
		t.Fatalf("unexpected %+v", got)
	}

	mock.ExpectQuery("SELECT submission_id").WithArgs("nope").WillReturnRows(sqlmock.NewRows(cols))
	if _, err := repo.GetByID(ctx, "nope"); appErr.GetCode(err) != appErr.SubmissionNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinalizeOnlyOnce(t *testing.T) {
	database, mock := newMock(t)
	repo := NewSubmissionRepository(database)
	ctx := context.Background()

	sub := &model.Submission{ID: "sub-1"}
	sub.Complete(7, time.Now())

	mock.ExpectExec("SET status = \\?, score").
		WithArgs("completed", 7, "", nil, sqlmock.AnyArg(), "sub-1", "pending", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Finalize(ctx, sub); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	mock.ExpectExec("SET status = \\?, score").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Finalize(ctx, sub); appErr.GetCode(err) != appErr.SubmissionFinalized {
		t.Fatalf("expected finalized, got %v", err)
	}

	mock.ExpectExec("SET status = \\?, started_at").
		WithArgs("running", sqlmock.AnyArg(), "sub-2", "pending", "running").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.MarkRunning(ctx, "sub-2", time.Now()); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	if err := repo.Finalize(ctx, &model.Submission{ID: "x", Status: model.StatusRunning}); appErr.GetCode(err) != appErr.InvalidParams {
		t.Fatalf("non-terminal finalize accepted: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

const customMaze = "XXXXX\nXS.EX\nXXXXX"

func TestMazeRepositoryPrefersStoredThenBuiltin(t *testing.T) {
	database, mock := newMock(t)
	c, _ := newCache(t)
	repo := NewMazeRepository(database, c, nil)
	ctx := context.Background()
	cols := []string{"maze_id", "name", "difficulty", "grid_data", "is_active"}

	mock.ExpectQuery("FROM mazes WHERE maze_id").WithArgs("custom").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("custom", "Custom", "challenge", customMaze, true))
	def, err := repo.Get(ctx, "custom")
	if err != nil {
		t.Fatalf("get custom: %v", err)
	}
	if def.ID != "custom" || def.Width != 5 {
		t.Fatalf("unexpected %+v", def.Info())
	}
	// Second read is served from Redis.
	if _, err := repo.Get(ctx, "custom"); err != nil {
		t.Fatalf("cached get: %v", err)
	}

	mock.ExpectQuery("FROM mazes WHERE maze_id").WithArgs("tutorial").WillReturnRows(sqlmock.NewRows(cols))
	def, err = repo.Get(ctx, "tutorial")
	if err != nil || def.ID != "tutorial" {
		t.Fatalf("builtin fallback failed: %v", err)
	}

	mock.ExpectQuery("FROM mazes WHERE maze_id").WithArgs("retired").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("retired", "Old", "tutorial", customMaze, false))
	if _, err := repo.Get(ctx, "retired"); appErr.GetCode(err) != appErr.MazeInactive {
		t.Fatalf("expected inactive, got %v", err)
	}

	mock.ExpectQuery("FROM mazes WHERE maze_id").WithArgs("ghost").WillReturnRows(sqlmock.NewRows(cols))
	if _, err := repo.Get(ctx, "ghost"); appErr.GetCode(err) != appErr.MazeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMazeRepositoryList(t *testing.T) {
	database, mock := newMock(t)
	repo := NewMazeRepository(database, nil, nil)
	cols := []string{"maze_id", "name", "difficulty", "grid_data", "is_active"}
	mock.ExpectQuery("FROM mazes WHERE is_active").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("custom", "Custom", "challenge", customMaze, true).
			AddRow("broken", "Broken", "challenge", "###", true))

	infos, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	if strings.Join(ids, ",") != "custom,intermediate,tutorial" {
		t.Fatalf("ids = %v", ids)
	}

	noDB := NewMazeRepository(nil, nil, maze.NewCatalog())
	infos, err = noDB.List(context.Background())
	if err != nil || len(infos) != 2 {
		t.Fatalf("catalog list = %v, %v", infos, err)
	}
}

func TestArtifactRepository(t *testing.T) {
	store := storage.NewMemoryStorage()
	repo, err := NewArtifactRepository(store, "labyrinth")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()

	if err := repo.PutCode(ctx, model.CodeKey("s1"), "print('hi')"); err != nil {
		t.Fatalf("put code: %v", err)
	}
	code, err := repo.GetCode(ctx, model.CodeKey("s1"))
	if err != nil || code != "print('hi')" {
		t.Fatalf("get code = %q, %v", code, err)
	}
	if _, err := repo.GetCode(ctx, model.CodeKey("missing")); appErr.GetCode(err) != appErr.CodeArtifactMissing {
		t.Fatalf("expected missing artifact, got %v", err)
	}
	if err := repo.RemoveCode(ctx, model.CodeKey("s1")); err != nil {
		t.Fatalf("remove code: %v", err)
	}
	if _, err := repo.GetCode(ctx, model.CodeKey("s1")); appErr.GetCode(err) != appErr.CodeArtifactMissing {
		t.Fatalf("code survived removal: %v", err)
	}
	if err := repo.RemoveCode(ctx, model.CodeKey("s1")); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	tr := &model.Transcript{
		SubmissionID: "s1",
		SessionID:    "sess_abc",
		Provider:     "fake",
		Result:       sandbox.Result{Success: true, Output: strings.Repeat("step\n", 200), Turns: 14, Completed: true},
		Stderr:       "warning",
	}
	key := model.TranscriptKey("s1")
	if err := repo.PutTranscript(ctx, key, tr); err != nil {
		t.Fatalf("put transcript: %v", err)
	}
	stat, err := store.StatObject(ctx, "labyrinth", key)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.ContentType != "application/zstd" || stat.SizeBytes >= int64(len(tr.Result.Output)) {
		t.Fatalf("transcript not compressed: %+v", stat)
	}
	rc, _ := store.GetObject(ctx, "labyrinth", key)
	raw, _ := io.ReadAll(rc)
	_ = rc.Close()
	if strings.Contains(string(raw), "step") {
		t.Fatalf("transcript stored in clear")
	}

	got, err := repo.GetTranscript(ctx, key)
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	if got.Result.Turns != 14 || got.Stderr != "warning" || got.Result.Output != tr.Result.Output {
		t.Fatalf("unexpected %+v", got)
	}
}
