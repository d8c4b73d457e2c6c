package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"labyrinth/internal/cli/render"
	"labyrinth/internal/maze"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// errQuit ends the loop.
var errQuit = errors.New("quit")

var shortDirections = map[string]maze.Direction{
	"n": maze.North,
	"s": maze.South,
	"e": maze.East,
	"w": maze.West,
}

// Session holds REPL state.
type Session struct {
	player  Player
	palette *render.Palette
	out     io.Writer
	// OnStart runs after a new session is created.
	OnStart func(st maze.State)
}

func New(player Player, palette *render.Palette, out io.Writer) *Session {
	return &Session{player: player, palette: palette, out: out}
}

// Run reads commands until exit, EOF or ctx is done.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "maze> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("look"),
			readline.PcItem("move",
				readline.PcItem("north"), readline.PcItem("south"),
				readline.PcItem("east"), readline.PcItem("west"),
			),
			readline.PcItem("render"),
			readline.PcItem("info"),
			readline.PcItem("new"),
			readline.PcItem("mazes"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.out = rl.Stdout()

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			s.printLine("%s", s.palette.Bad.Sprintf("error: %v", err))
		}
	}
	return ctx.Err()
}

// Exec runs one command line.
func (s *Session) Exec(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	name, args := strings.ToLower(tokens[0]), tokens[1:]

	if dir, ok := shortDirections[name]; ok {
		return s.move(ctx, dir)
	}
	if dir, err := maze.ParseDirection(name); err == nil {
		return s.move(ctx, dir)
	}

	switch name {
	case "exit", "quit":
		s.printLine("bye")
		return errQuit
	case "help", "?":
		s.printHelp()
		return nil
	case "look", "l":
		view, err := s.player.Look(ctx)
		if err != nil {
			return err
		}
		s.printLine("%s", s.palette.Look(view))
		return nil
	case "move", "m":
		if len(args) != 1 {
			return fmt.Errorf("usage: move north|south|east|west")
		}
		dir, ok := shortDirections[strings.ToLower(args[0])]
		if !ok {
			parsed, err := maze.ParseDirection(args[0])
			if err != nil {
				return err
			}
			dir = parsed
		}
		return s.move(ctx, dir)
	case "render", "map":
		text, err := s.player.Render(ctx)
		if err != nil {
			return err
		}
		s.printLine("%s", s.palette.Maze(text))
		return nil
	case "info", "state":
		st, err := s.player.State(ctx)
		if err != nil {
			return err
		}
		s.printState(st)
		return nil
	case "new", "start":
		if len(args) != 1 {
			return fmt.Errorf("usage: new <maze_id>")
		}
		return s.Start(ctx, args[0])
	case "mazes":
		infos, err := s.player.Mazes(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			s.printLine("%-24s %-13s %dx%d  %s", info.ID, info.Difficulty, info.Width, info.Height, info.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q, try 'help'", name)
	}
}

// Start begins a new session on mazeID.
func (s *Session) Start(ctx context.Context, mazeID string) error {
	st, err := s.player.Start(ctx, mazeID)
	if err != nil {
		return err
	}
	if s.OnStart != nil {
		s.OnStart(st)
	}
	s.printLine("%s", s.palette.Info.Sprintf("session %s on %s", st.SessionID, st.MazeID))
	return nil
}

func (s *Session) move(ctx context.Context, dir maze.Direction) error {
	res, err := s.player.Move(ctx, dir)
	if err != nil {
		return err
	}
	s.printLine("%s", s.palette.Move(res))
	if res.Status == maze.MoveCompleted {
		s.printLine("%s", s.palette.Good.Sprintf("Exit reached in %d turns.", res.Turns))
	}
	return nil
}

func (s *Session) printState(st maze.State) {
	s.printLine("session:   %s", st.SessionID)
	s.printLine("maze:      %s (%dx%d)", st.MazeID, st.Width, st.Height)
	s.printLine("position:  (%d, %d)", st.Position.X, st.Position.Y)
	s.printLine("turns:     %d", st.Turns)
	s.printLine("stuck:     %t", st.IsStuck)
	s.printLine("completed: %t", st.Completed)
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  look                      show neighbouring cells (free)")
	s.printLine("  move <dir> | n s e w      move one cell (one turn)")
	s.printLine("  render                    draw the maze")
	s.printLine("  info                      show session state")
	s.printLine("  new <maze_id>             start a new session")
	s.printLine("  mazes                     list mazes")
	s.printLine("  exit")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
