package fake

import (
	"context"
	"errors"
	"fmt"
	"io"

	"labyrinth/internal/maze"
)

// Moves plays a fixed move sequence and stops early at the exit.
func Moves(dirs ...maze.Direction) Script {
	return func(ctx context.Context, s Stepper, out io.Writer) error {
		for _, d := range dirs {
			res, err := s.Move(ctx, d)
			if err != nil {
				return err
			}
			if res.Status == maze.MoveCompleted {
				return nil
			}
		}
		return nil
	}
}

// Hang blocks until the execution is killed.
func Hang() Script {
	return func(ctx context.Context, s Stepper, out io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

// Fail returns err without touching the maze.
func Fail(err error) Script {
	return func(ctx context.Context, s Stepper, out io.Writer) error {
		return err
	}
}

// Explorer walks the maze depth first using look, backtracking from dead
// ends, until it reaches the exit.
func Explorer() Script {
	return func(ctx context.Context, s Stepper, out io.Writer) error {
		pos := maze.Position{}
		visited := map[maze.Position]bool{pos: true}
		var trail []maze.Direction

		for ctx.Err() == nil {
			view, err := s.Look(ctx)
			if err != nil {
				return err
			}
			var next maze.Direction
			for _, d := range maze.Directions {
				if cellToward(view, d) == string(maze.CellWall) || visited[pos.Step(d)] {
					continue
				}
				next = d
				break
			}

			if next == "" {
				if len(trail) == 0 {
					return errors.New("no path to exit")
				}
				back := opposite(trail[len(trail)-1])
				trail = trail[:len(trail)-1]
				if _, err := step(ctx, s, back); err != nil {
					return err
				}
				pos = pos.Step(back)
				continue
			}

			res, err := step(ctx, s, next)
			if err != nil {
				return err
			}
			switch res.Status {
			case maze.MoveCompleted:
				_, _ = fmt.Fprintf(out, "escaped in %d turns\n", res.Turns)
				return nil
			case maze.MoveBlocked:
				visited[pos.Step(next)] = true
				continue
			}
			pos = pos.Step(next)
			visited[pos] = true
			trail = append(trail, next)
		}
		return ctx.Err()
	}
}

// step moves in d, repeating the move while stuck in mud.
func step(ctx context.Context, s Stepper, d maze.Direction) (maze.MoveResult, error) {
	for {
		res, err := s.Move(ctx, d)
		if err != nil || res.Status != maze.MoveStuck {
			return res, err
		}
	}
}

func cellToward(view maze.LookResult, d maze.Direction) string {
	switch d {
	case maze.North:
		return view.North
	case maze.South:
		return view.South
	case maze.East:
		return view.East
	default:
		return view.West
	}
}

func opposite(d maze.Direction) maze.Direction {
	switch d {
	case maze.North:
		return maze.South
	case maze.South:
		return maze.North
	case maze.East:
		return maze.West
	default:
		return maze.East
	}
}
