package maze

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	appErr "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const defaultSessionTTL = time.Hour

// MoveStatus is the outcome of a single move.
type MoveStatus string

const (
	MoveMoved     MoveStatus = "moved"
	MoveBlocked   MoveStatus = "blocked"
	MoveMud       MoveStatus = "mud"
	MoveStuck     MoveStatus = "stuck"
	MoveCompleted MoveStatus = "completed"
)

// LookResult is what the player sees around them.
type LookResult struct {
	North   string `json:"north"`
	South   string `json:"south"`
	East    string `json:"east"`
	West    string `json:"west"`
	Current string `json:"current"`
}

// MoveResult is the response to a move.
type MoveResult struct {
	Status   MoveStatus `json:"status"`
	Position Position   `json:"position"`
	Turns    int        `json:"turns"`
	Message  string     `json:"message,omitempty"`
}

// State is a snapshot of one session.
type State struct {
	SessionID  string    `json:"session_id"`
	MazeID     string    `json:"maze_id"`
	UserID     string    `json:"user_id,omitempty"`
	Position   Position  `json:"position"`
	Turns      int       `json:"turns"`
	IsStuck    bool      `json:"is_stuck"`
	Completed  bool      `json:"completed"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Start      Position  `json:"start_position"`
	Exit       Position  `json:"exit_position"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`

	// CallbackToken lets the sandbox act on this session without a user id.
	// It is never serialized.
	CallbackToken string `json:"-"`
}

// Observer is notified about session lifecycle and moves.
type Observer interface {
	SessionsActive(n int)
	MoveRecorded(status MoveStatus)
}

type nopObserver struct{}

func (nopObserver) SessionsActive(int)      {}
func (nopObserver) MoveRecorded(MoveStatus) {}

type session struct {
	mu sync.Mutex

	id     string
	userID string
	token  string
	maze   *Definition

	pos       Position
	turns     int
	stuck     bool
	completed bool
	closed    bool

	createdAt  time.Time
	lastActive time.Time
}

func (s *session) stateLocked() State {
	return State{
		SessionID:  s.id,
		MazeID:     s.maze.ID,
		UserID:     s.userID,
		Position:   s.pos,
		Turns:      s.turns,
		IsStuck:    s.stuck,
		Completed:  s.completed,
		Width:      s.maze.Width,
		Height:     s.maze.Height,
		Start:      s.maze.Start,
		Exit:       s.maze.Exit,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,

		CallbackToken: s.token,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithTTL sets how long an idle session survives. Zero or negative disables eviction.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// Engine owns all live maze sessions. Calls on different sessions run in
// parallel; calls on the same session are serialized.
type Engine struct {
	sessions *xsync.MapOf[string, *session]
	ttl      time.Duration
	now      func() time.Time
	observer Observer
}

// NewEngine creates an engine with an empty session arena.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sessions: xsync.NewMapOf[string, *session](),
		ttl:      defaultSessionTTL,
		now:      time.Now,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func newSessionID() string {
	return "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateSession places a new player on the start cell of def.
func (e *Engine) CreateSession(def *Definition, userID string) (State, error) {
	if def == nil {
		return State{}, appErr.New(appErr.MazeNotFound)
	}
	now := e.now()
	s := &session{
		id:         newSessionID(),
		userID:     userID,
		token:      uuid.NewString(),
		maze:       def,
		pos:        def.Start,
		createdAt:  now,
		lastActive: now,
	}
	st := s.stateLocked()
	for {
		if _, loaded := e.sessions.LoadOrStore(s.id, s); !loaded {
			break
		}
		s.id = newSessionID()
		st.SessionID = s.id
	}
	e.observer.SessionsActive(e.sessions.Size())
	return st, nil
}

// acquire returns the locked session. The caller must unlock it.
func (e *Engine) acquire(sessionID string) (*session, error) {
	s, ok := e.sessions.Load(sessionID)
	if !ok {
		return nil, appErr.New(appErr.MazeSessionNotFound).WithDetail("session_id", sessionID)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, appErr.New(appErr.MazeSessionNotFound).WithDetail("session_id", sessionID)
	}
	return s, nil
}

// Look reports the four neighbours and the current cell. It never costs a turn
// and fails once the session is completed.
func (e *Engine) Look(sessionID string) (LookResult, error) {
	s, err := e.acquire(sessionID)
	if err != nil {
		return LookResult{}, err
	}
	defer s.mu.Unlock()

	if s.completed {
		return LookResult{}, appErr.New(appErr.MazeSessionCompleted).WithDetail("session_id", sessionID)
	}
	s.lastActive = e.now()
	at := func(d Direction) string {
		p := s.pos.Step(d)
		return s.maze.CellAt(p.X, p.Y).Display()
	}
	return LookResult{
		North:   at(North),
		South:   at(South),
		East:    at(East),
		West:    at(West),
		Current: s.maze.CellAt(s.pos.X, s.pos.Y).Display(),
	}, nil
}

// Move spends one turn trying to step in direction dir.
func (e *Engine) Move(sessionID string, dir Direction) (MoveResult, error) {
	dir, err := ParseDirection(string(dir))
	if err != nil {
		return MoveResult{}, err
	}
	s, err := e.acquire(sessionID)
	if err != nil {
		return MoveResult{}, err
	}
	defer s.mu.Unlock()

	if s.completed {
		return MoveResult{}, appErr.New(appErr.MazeSessionCompleted).WithDetail("session_id", sessionID)
	}
	s.lastActive = e.now()
	s.turns++

	res := e.step(s, dir)
	e.observer.MoveRecorded(res.Status)
	return res, nil
}

func (e *Engine) step(s *session, dir Direction) MoveResult {
	if s.stuck {
		s.stuck = false
		return MoveResult{Status: MoveStuck, Position: s.pos, Turns: s.turns, Message: "Still stuck in mud! Movement skipped."}
	}

	target := s.pos.Step(dir)
	cell := s.maze.CellAt(target.X, target.Y)
	if cell == CellWall {
		return MoveResult{Status: MoveBlocked, Position: s.pos, Turns: s.turns, Message: fmt.Sprintf("Cannot move %s - wall blocking", dir)}
	}

	s.pos = target
	switch cell {
	case CellMud:
		s.stuck = true
		return MoveResult{Status: MoveMud, Position: s.pos, Turns: s.turns, Message: "Stepped in mud! Next move will be skipped."}
	case CellExit:
		s.completed = true
		return MoveResult{Status: MoveCompleted, Position: s.pos, Turns: s.turns, Message: "Congratulations! You escaped the maze!"}
	default:
		return MoveResult{Status: MoveMoved, Position: s.pos, Turns: s.turns}
	}
}

// Info returns a snapshot of the session.
func (e *Engine) Info(sessionID string) (State, error) {
	s, err := e.acquire(sessionID)
	if err != nil {
		return State{}, err
	}
	defer s.mu.Unlock()
	return s.stateLocked(), nil
}

// Visualize renders the maze with '@' on the player.
func (e *Engine) Visualize(sessionID string) (string, error) {
	s, err := e.acquire(sessionID)
	if err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	pos := s.pos
	return s.maze.Render(&pos), nil
}

// CloseSession removes the session and returns its final state.
func (e *Engine) CloseSession(sessionID string) (State, error) {
	s, err := e.acquire(sessionID)
	if err != nil {
		return State{}, err
	}
	s.closed = true
	st := s.stateLocked()
	s.mu.Unlock()

	e.sessions.Delete(sessionID)
	e.observer.SessionsActive(e.sessions.Size())
	return st, nil
}

// Len returns the number of live sessions.
func (e *Engine) Len() int {
	return e.sessions.Size()
}

// EvictExpired drops sessions idle for longer than the TTL and returns how many went.
func (e *Engine) EvictExpired() int {
	if e.ttl <= 0 {
		return 0
	}
	cutoff := e.now().Add(-e.ttl)
	var expired []string
	e.sessions.Range(func(id string, s *session) bool {
		s.mu.Lock()
		if !s.closed && s.lastActive.Before(cutoff) {
			s.closed = true
			expired = append(expired, id)
		}
		s.mu.Unlock()
		return true
	})
	for _, id := range expired {
		e.sessions.Delete(id)
	}
	if len(expired) > 0 {
		e.observer.SessionsActive(e.sessions.Size())
	}
	return len(expired)
}

// Janitor evicts expired sessions every interval until ctx is done.
func (e *Engine) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 || e.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.EvictExpired(); n > 0 {
				logger.Info(ctx, "evicted idle maze sessions", zap.Int("count", n), zap.Int("remaining", e.Len()))
			}
		}
	}
}
