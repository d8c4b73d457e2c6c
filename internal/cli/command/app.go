// Package command defines the labyrinth command-line tool.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"labyrinth/internal/cli/config"
	"labyrinth/internal/cli/render"
	"labyrinth/internal/mazeclient"

	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "configs/cli.yaml"

// ErrCheckFailed is returned when a checked file is invalid. The findings have
// already been printed.
var ErrCheckFailed = errors.New("check failed")

// app is the state shared by every subcommand.
type app struct {
	cfg     config.Config
	palette *render.Palette
	out     io.Writer
}

// New builds the root command writing to out.
func New(out io.Writer) *cli.Command {
	a := &app{out: out}
	return &cli.Command{
		Name:   "labyrinth",
		Usage:  "validate, inspect and play labyrinth mazes",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: defaultConfigPath, Usage: "path to config file"},
			&cli.StringFlag{Name: "api-url", Usage: "grader base URL", Sources: cli.EnvVars(config.EnvBaseURL)},
			&cli.StringFlag{Name: "user", Usage: "user id sent as X-User-Id", Sources: cli.EnvVars(config.EnvUserID)},
			&cli.DurationFlag{Name: "timeout", Usage: "HTTP timeout"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.validateCommand(),
			a.checkMazeCommand(),
			a.visualizeCommand(),
			a.playCommand(),
			a.mazesCommand(),
			a.submitCommand(),
			a.statusCommand(),
		},
	}
}

func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if v := cmd.String("api-url"); v != "" {
		cfg.BaseURL = v
	}
	if v := cmd.String("user"); v != "" {
		cfg.UserID = v
	}
	if v := cmd.Duration("timeout"); v > 0 {
		cfg.Timeout = v
	}
	if cmd.Bool("no-color") {
		off := false
		cfg.Color = &off
	}
	a.cfg = cfg
	a.palette = render.New(*cfg.Color)
	return ctx, nil
}

func (a *app) client(sessionID string) *mazeclient.Client {
	opts := []mazeclient.Option{mazeclient.WithTimeout(a.cfg.Timeout)}
	if a.cfg.UserID != "" {
		opts = append(opts, mazeclient.WithUserID(a.cfg.UserID))
	}
	return mazeclient.New(a.cfg.BaseURL, sessionID, opts...)
}

func (a *app) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func (a *app) println(s string) {
	_, _ = fmt.Fprintln(a.out, s)
}

func readArgFile(cmd *cli.Command, what string) (string, []byte, error) {
	if cmd.NArg() != 1 {
		return "", nil, fmt.Errorf("usage: %s %s", cmd.Name, what)
	}
	path := cmd.Args().First()
	data, err := os.ReadFile(path)
	if err != nil {
		return path, nil, fmt.Errorf("read %s failed: %w", path, err)
	}
	return path, data, nil
}

func historyPath(statePath string) string {
	return filepath.Join(filepath.Dir(statePath), "history")
}
