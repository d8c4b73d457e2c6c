// Package maze implements the turn-based maze engine: maze definitions,
// the text parser and per-session look/move state.
package maze

import (
	"strings"

	appErr "labyrinth/pkg/errors"
)

// Cell is one grid character.
type Cell byte

const (
	CellOpen  Cell = '.'
	CellWall  Cell = 'X'
	CellMud   Cell = '#'
	CellStart Cell = 'S'
	CellExit  Cell = 'E'
)

// cellFromChar maps a maze text character to a cell. Space is an open cell.
func cellFromChar(ch rune) (Cell, bool) {
	switch ch {
	case '.', ' ':
		return CellOpen, true
	case 'X':
		return CellWall, true
	case '#':
		return CellMud, true
	case 'S':
		return CellStart, true
	case 'E':
		return CellExit, true
	default:
		return 0, false
	}
}

// Display returns the character reported by look. The start marker is cosmetic
// and shows as open ground.
func (c Cell) Display() string {
	if c == CellStart {
		return string(CellOpen)
	}
	return string(c)
}

// Direction is a cardinal move direction.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// Directions lists all directions in clockwise order starting north.
var Directions = []Direction{North, East, South, West}

// ParseDirection accepts a direction name in any case.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case North, South, East, West:
		return d, nil
	default:
		return "", appErr.Newf(appErr.MazeInvalidDirection, "Invalid direction '%s'. Must be one of: north, south, east, west", raw)
	}
}

// Delta returns the unit offset for the direction. North is -y.
func (d Direction) Delta() (dx, dy int) {
	switch d {
	case North:
		return 0, -1
	case South:
		return 0, 1
	case East:
		return 1, 0
	case West:
		return -1, 0
	}
	return 0, 0
}

// Position is a grid coordinate. (0,0) is the top-left corner.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Step returns the neighbouring position in direction d.
func (p Position) Step(d Direction) Position {
	dx, dy := d.Delta()
	return Position{X: p.X + dx, Y: p.Y + dy}
}
