package repl

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"labyrinth/internal/cli/render"
	"labyrinth/internal/maze"
	"labyrinth/internal/mazeclient"
	appErr "labyrinth/pkg/errors"
)

func newLocal(t *testing.T) (*Session, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s := New(NewLocalPlayer(), render.New(false), &out)
	if err := s.Start(context.Background(), "tutorial"); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s, &out
}

func TestSolveTutorialLocally(t *testing.T) {
	s, out := newLocal(t)
	ctx := context.Background()
	var started maze.State
	s.OnStart = func(st maze.State) { started = st }
	if err := s.Start(ctx, "tutorial"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if started.MazeID != "tutorial" || started.Turns != 0 {
		t.Fatalf("OnStart got %+v", started)
	}

	lines := []string{"look"}
	for i := 0; i < 7; i++ {
		lines = append(lines, "s")
	}
	for i := 0; i < 7; i++ {
		lines = append(lines, "move east")
	}
	lines = append(lines, "east")
	for _, line := range lines {
		if err := s.Exec(ctx, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	if !strings.Contains(out.String(), "Exit reached in 15 turns.") {
		t.Fatalf("output:\n%s", out.String())
	}

	err := s.Exec(ctx, "look")
	if appErr.GetCode(err) != appErr.MazeSessionCompleted {
		t.Fatalf("look after exit: %v", err)
	}
}

func TestLookIsFreeAndInfoReportsTurns(t *testing.T) {
	s, out := newLocal(t)
	ctx := context.Background()
	for _, line := range []string{"look", "l", "n", "info"} {
		if err := s.Exec(ctx, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	text := out.String()
	if !strings.Contains(text, "blocked at (1, 1), turn 1") {
		t.Fatalf("missing blocked move:\n%s", text)
	}
	if !strings.Contains(text, "turns:     1") {
		t.Fatalf("info should report one turn:\n%s", text)
	}
}

func TestRenderMarksPlayer(t *testing.T) {
	s, out := newLocal(t)
	if err := s.Exec(context.Background(), "render"); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out.String(), "@") {
		t.Fatalf("player not drawn:\n%s", out.String())
	}
}

func TestExecErrors(t *testing.T) {
	s, _ := newLocal(t)
	ctx := context.Background()
	cases := []struct {
		line string
		code appErr.ErrorCode
	}{
		{"move up", appErr.MazeInvalidDirection},
		{"new nowhere", appErr.MazeNotFound},
	}
	for _, tc := range cases {
		if err := s.Exec(ctx, tc.line); appErr.GetCode(err) != tc.code {
			t.Fatalf("%q: expected %d, got %v", tc.line, tc.code, err)
		}
	}
	if err := s.Exec(ctx, "dance"); err == nil {
		t.Fatalf("unknown command accepted")
	}
	if err := s.Exec(ctx, "move"); err == nil {
		t.Fatalf("move without direction accepted")
	}
	if err := s.Exec(ctx, "  "); err != nil {
		t.Fatalf("blank line: %v", err)
	}
	if err := s.Exec(ctx, "quit"); !errors.Is(err, errQuit) {
		t.Fatalf("quit: %v", err)
	}
}

func TestMazesListsCatalog(t *testing.T) {
	def, err := maze.Parse("XXXXX\nXS.EX\nXXXXX", "Tiny", maze.Challenge)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def.ID = "tiny"
	var out bytes.Buffer
	s := New(NewLocalPlayer(def), render.New(false), &out)
	if err := s.Exec(context.Background(), "mazes"); err != nil {
		t.Fatalf("mazes: %v", err)
	}
	for _, id := range []string{"intermediate", "tiny", "tutorial"} {
		if !strings.Contains(out.String(), id) {
			t.Fatalf("missing %s:\n%s", id, out.String())
		}
	}
}

func TestRemotePlayerNeedsSession(t *testing.T) {
	var out bytes.Buffer
	client := mazeclient.New("http://127.0.0.1:1", "")
	s := New(NewRemotePlayer(client), render.New(false), &out)
	err := s.Exec(context.Background(), "look")
	if appErr.GetCode(err) != appErr.MazeSessionNotFound {
		t.Fatalf("expected session not found, got %v", err)
	}
}
