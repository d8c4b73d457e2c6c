package repl

import (
	"context"

	"labyrinth/internal/maze"
	"labyrinth/internal/mazeclient"
	appErr "labyrinth/pkg/errors"
)

// Player is one maze session the REPL drives.
type Player interface {
	Start(ctx context.Context, mazeID string) (maze.State, error)
	Look(ctx context.Context) (maze.LookResult, error)
	Move(ctx context.Context, dir maze.Direction) (maze.MoveResult, error)
	Render(ctx context.Context) (string, error)
	State(ctx context.Context) (maze.State, error)
	Mazes(ctx context.Context) ([]maze.Info, error)
}

// RemotePlayer plays against a grader facade.
type RemotePlayer struct {
	client *mazeclient.Client
}

// NewRemotePlayer wraps client. If the client is already bound to a session
// that session is resumed.
func NewRemotePlayer(client *mazeclient.Client) *RemotePlayer {
	return &RemotePlayer{client: client}
}

func (p *RemotePlayer) Start(ctx context.Context, mazeID string) (maze.State, error) {
	return p.client.CreateSession(ctx, mazeID)
}

func (p *RemotePlayer) Look(ctx context.Context) (maze.LookResult, error) {
	if err := p.bound(); err != nil {
		return maze.LookResult{}, err
	}
	return p.client.Look(ctx)
}

func (p *RemotePlayer) Move(ctx context.Context, dir maze.Direction) (maze.MoveResult, error) {
	if err := p.bound(); err != nil {
		return maze.MoveResult{}, err
	}
	return p.client.Move(ctx, dir)
}

func (p *RemotePlayer) Render(ctx context.Context) (string, error) {
	if err := p.bound(); err != nil {
		return "", err
	}
	return p.client.Render(ctx)
}

func (p *RemotePlayer) State(ctx context.Context) (maze.State, error) {
	if err := p.bound(); err != nil {
		return maze.State{}, err
	}
	return p.client.Session(ctx)
}

func (p *RemotePlayer) Mazes(ctx context.Context) ([]maze.Info, error) {
	return p.client.ListMazes(ctx)
}

func (p *RemotePlayer) bound() error {
	if p.client.SessionID() == "" {
		return appErr.New(appErr.MazeSessionNotFound).WithMessage("No session started; use 'new <maze_id>'")
	}
	return nil
}

// LocalPlayer plays maze files in process, with no grader involved.
type LocalPlayer struct {
	engine    *maze.Engine
	catalog   *maze.Catalog
	sessionID string
}

// NewLocalPlayer serves the built-in mazes plus defs.
func NewLocalPlayer(defs ...*maze.Definition) *LocalPlayer {
	return &LocalPlayer{engine: maze.NewEngine(maze.WithTTL(0)), catalog: maze.NewCatalog(defs...)}
}

func (p *LocalPlayer) Start(ctx context.Context, mazeID string) (maze.State, error) {
	def, ok := p.catalog.Get(mazeID)
	if !ok {
		return maze.State{}, appErr.Newf(appErr.MazeNotFound, "Maze '%s' not found", mazeID)
	}
	if p.sessionID != "" {
		_, _ = p.engine.CloseSession(p.sessionID)
	}
	st, err := p.engine.CreateSession(def, "")
	if err != nil {
		return maze.State{}, err
	}
	p.sessionID = st.SessionID
	return st, nil
}

func (p *LocalPlayer) Look(ctx context.Context) (maze.LookResult, error) {
	return p.engine.Look(p.sessionID)
}

func (p *LocalPlayer) Move(ctx context.Context, dir maze.Direction) (maze.MoveResult, error) {
	return p.engine.Move(p.sessionID, dir)
}

func (p *LocalPlayer) Render(ctx context.Context) (string, error) {
	return p.engine.Visualize(p.sessionID)
}

func (p *LocalPlayer) State(ctx context.Context) (maze.State, error) {
	return p.engine.Info(p.sessionID)
}

func (p *LocalPlayer) Mazes(ctx context.Context) ([]maze.Info, error) {
	return p.catalog.List(), nil
}
