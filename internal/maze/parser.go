package maze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"labyrinth/pkg/utils/logger"

	"go.uber.org/zap"
)

// Difficulty is the published difficulty tier of a maze.
type Difficulty string

const (
	Tutorial     Difficulty = "tutorial"
	Intermediate Difficulty = "intermediate"
	Challenge    Difficulty = "challenge"
)

// ParseDifficulty normalizes and checks a difficulty name.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(raw))); d {
	case Tutorial, Intermediate, Challenge:
		return d, nil
	default:
		return "", &ParseError{Reason: fmt.Sprintf("Invalid difficulty '%s'. Must be one of: challenge, intermediate, tutorial", raw)}
	}
}

// ParseError describes why maze text was rejected. Pos and Other point at the
// offending cells when the problem has a location.
type ParseError struct {
	Reason string
	Pos    *Position
	Other  *Position
}

func (e *ParseError) Error() string {
	return e.Reason
}

// Definition is an immutable, validated maze.
type Definition struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Difficulty Difficulty `json:"difficulty"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Start      Position   `json:"start_position"`
	Exit       Position   `json:"exit_position"`
	GridData   string     `json:"grid_data"`

	grid [][]Cell
}

// CellAt returns the cell at (x, y). Anything outside the grid is wall; so is
// the gap past the end of a short row.
func (d *Definition) CellAt(x, y int) Cell {
	if y < 0 || y >= len(d.grid) || x < 0 || x >= len(d.grid[y]) {
		return CellWall
	}
	return d.grid[y][x]
}

// Render draws the grid, marking player with '@' when non-nil.
func (d *Definition) Render(player *Position) string {
	var b strings.Builder
	for y, row := range d.grid {
		if y > 0 {
			b.WriteByte('\n')
		}
		for x, cell := range row {
			if player != nil && player.X == x && player.Y == y {
				b.WriteByte('@')
				continue
			}
			b.WriteByte(byte(cell))
		}
	}
	return b.String()
}

// Info is the public summary of a maze.
type Info struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Difficulty Difficulty `json:"difficulty"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Start      Position   `json:"start_position"`
	Exit       Position   `json:"exit_position"`
}

// Info returns the maze metadata.
func (d *Definition) Info() Info {
	return Info{
		ID:         d.ID,
		Name:       d.Name,
		Difficulty: d.Difficulty,
		Width:      d.Width,
		Height:     d.Height,
		Start:      d.Start,
		Exit:       d.Exit,
	}
}

// Parse validates maze text and builds a definition. GridData keeps the text
// exactly as given; trailing line breaks do not add rows.
func Parse(text, name string, difficulty Difficulty) (*Definition, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Reason: "Maze text is empty"}
	}
	diff, err := ParseDifficulty(string(difficulty))
	if err != nil {
		return nil, err
	}

	body := strings.TrimRight(text, "\r\n")
	lines := strings.Split(body, "\n")

	def := &Definition{
		Name:       name,
		Difficulty: diff,
		GridData:   text,
		Height:     len(lines),
		grid:       make([][]Cell, 0, len(lines)),
	}
	var start, exit *Position
	for y, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		row := make([]Cell, 0, len(line))
		x := 0
		for _, ch := range line {
			cell, ok := cellFromChar(ch)
			if !ok {
				return nil, &ParseError{
					Reason: fmt.Sprintf("Invalid character %s at position (%d, %d). Valid characters: ' ', #, ., E, S, X", quoteChar(ch), x, y),
					Pos:    &Position{X: x, Y: y},
				}
			}
			switch cell {
			case CellStart:
				if start != nil {
					return nil, &ParseError{
						Reason: fmt.Sprintf("Multiple start positions found: first at (%d, %d), second at (%d, %d)", start.X, start.Y, x, y),
						Pos:    &Position{X: x, Y: y},
						Other:  start,
					}
				}
				start = &Position{X: x, Y: y}
			case CellExit:
				if exit != nil {
					return nil, &ParseError{
						Reason: fmt.Sprintf("Multiple exit positions found: first at (%d, %d), second at (%d, %d)", exit.X, exit.Y, x, y),
						Pos:    &Position{X: x, Y: y},
						Other:  exit,
					}
				}
				exit = &Position{X: x, Y: y}
			}
			row = append(row, cell)
			x++
		}
		if len(row) > def.Width {
			def.Width = len(row)
		}
		def.grid = append(def.grid, row)
	}
	if def.Width == 0 {
		return nil, &ParseError{Reason: "Maze has no columns"}
	}
	if start == nil {
		return nil, &ParseError{Reason: "Maze must have a start position (S)"}
	}
	if exit == nil {
		return nil, &ParseError{Reason: "Maze must have an exit position (E)"}
	}
	def.Start = *start
	def.Exit = *exit
	return def, nil
}

func quoteChar(ch rune) string {
	if unicode.IsPrint(ch) {
		return fmt.Sprintf("'%c'", ch)
	}
	return fmt.Sprintf("%q", ch)
}

// ValidateText reports whether text is a loadable maze and, if not, why.
func ValidateText(text string) (bool, string) {
	if _, err := Parse(text, "Unnamed", Tutorial); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// LoadFile parses a maze file. The name comes from the file stem
// ("intermediate_spiral.txt" -> "Intermediate Spiral") and the difficulty from
// the first tier named in it, defaulting to tutorial.
func LoadFile(path string) (*Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("maze file not found: %w", err)
	}
	if info.IsDir() {
		return nil, &ParseError{Reason: fmt.Sprintf("Path is not a file: %s", path)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("Failed to read maze file: %v", err)}
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	def, err := Parse(string(data), titleFromStem(stem), difficultyFromStem(stem))
	if err != nil {
		return nil, err
	}
	def.ID = strings.ToLower(stem)
	return def, nil
}

// LoadDir loads every *.txt maze in dir, sorted by file name. Invalid files
// are logged and skipped.
func LoadDir(dir string) ([]*Definition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mazes directory not found: %w", err)
	}
	if !info.IsDir() {
		return nil, &ParseError{Reason: fmt.Sprintf("Path is not a directory: %s", dir)}
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	out := make([]*Definition, 0, len(paths))
	for _, p := range paths {
		def, err := LoadFile(p)
		if err != nil {
			logger.Warn(context.Background(), "skip invalid maze file", zap.String("path", p), zap.Error(err))
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

func titleFromStem(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func difficultyFromStem(stem string) Difficulty {
	lower := strings.ToLower(stem)
	for _, d := range []Difficulty{Tutorial, Intermediate, Challenge} {
		if strings.Contains(lower, string(d)) {
			return d
		}
	}
	return Tutorial
}
