// Package render prints mazes and session results for the terminal.
package render

import (
	"fmt"
	"strings"

	"labyrinth/internal/maze"

	"github.com/fatih/color"
)

// Palette colors maze characters. The zero value is unusable; use New.
type Palette struct {
	wall   *color.Color
	mud    *color.Color
	start  *color.Color
	exit   *color.Color
	player *color.Color
	open   *color.Color

	Good *color.Color
	Bad  *color.Color
	Info *color.Color
}

// New returns a palette. With enabled false every color is a no-op.
func New(enabled bool) *Palette {
	p := &Palette{
		wall:   color.New(color.FgHiBlack),
		mud:    color.New(color.FgYellow),
		start:  color.New(color.FgCyan, color.Bold),
		exit:   color.New(color.FgGreen, color.Bold),
		player: color.New(color.FgHiMagenta, color.Bold),
		open:   color.New(color.Reset),
		Good:   color.New(color.FgGreen),
		Bad:    color.New(color.FgRed),
		Info:   color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.wall, p.mud, p.start, p.exit, p.player, p.open, p.Good, p.Bad, p.Info} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Maze colors rendered maze text, where '@' marks the player.
func (p *Palette) Maze(text string) string {
	var b strings.Builder
	for _, ch := range text {
		switch ch {
		case '\n':
			b.WriteRune(ch)
		case rune(maze.CellWall):
			b.WriteString(p.wall.Sprint("█"))
		case rune(maze.CellMud):
			b.WriteString(p.mud.Sprint("#"))
		case rune(maze.CellStart):
			b.WriteString(p.start.Sprint("S"))
		case rune(maze.CellExit):
			b.WriteString(p.exit.Sprint("E"))
		case '@':
			b.WriteString(p.player.Sprint("@"))
		default:
			b.WriteString(p.open.Sprint(" "))
		}
	}
	return b.String()
}

// Look formats a look result as a compass.
func (p *Palette) Look(v maze.LookResult) string {
	return fmt.Sprintf("   %s\n %s %s %s\n   %s",
		p.cell(v.North), p.cell(v.West), p.player.Sprint("@"), p.cell(v.East), p.cell(v.South))
}

func (p *Palette) cell(s string) string {
	if s == "" {
		return p.wall.Sprint("?")
	}
	return p.Maze(s)
}

// Move formats a move result.
func (p *Palette) Move(res maze.MoveResult) string {
	line := fmt.Sprintf("%s at (%d, %d), turn %d", res.Status, res.Position.X, res.Position.Y, res.Turns)
	if res.Message != "" {
		line += ": " + res.Message
	}
	switch res.Status {
	case maze.MoveCompleted:
		return p.Good.Sprint(line)
	case maze.MoveBlocked, maze.MoveStuck:
		return p.Bad.Sprint(line)
	default:
		return line
	}
}

// Summary describes a parsed maze definition.
func Summary(def *maze.Definition) string {
	return fmt.Sprintf("%s (%s): %dx%d, start (%d, %d), exit (%d, %d)",
		def.Name, def.Difficulty, def.Width, def.Height,
		def.Start.X, def.Start.Y, def.Exit.X, def.Exit.Y)
}
