package command

import (
	"context"

	"labyrinth/internal/cli/render"
	"labyrinth/internal/maze"
	"labyrinth/internal/validator"

	"github.com/urfave/cli/v3"
)

func (a *app) validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "run the submission checks on a Python file",
		ArgsUsage: "<file.py>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remote", Usage: "validate on the grader instead of locally"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, data, err := readArgFile(cmd, "<file.py>")
			if err != nil {
				return err
			}
			var res validator.Result
			if cmd.Bool("remote") {
				res, err = a.client("").Validate(ctx, string(data))
				if err != nil {
					return err
				}
			} else {
				res = validator.New().ValidateContext(ctx, string(data))
			}
			for _, e := range res.Errors {
				a.println(a.palette.Bad.Sprint("error:   ") + e)
			}
			for _, w := range res.Warnings {
				a.println(a.palette.Info.Sprint("warning: ") + w)
			}
			if !cmd.Bool("remote") {
				for _, f := range validator.CheckFilesystemEscape(string(data)) {
					a.println(a.palette.Info.Sprint("note:    ") + f)
				}
			}
			if !res.IsValid {
				a.printf("%s: %s\n", path, a.palette.Bad.Sprint("rejected"))
				return ErrCheckFailed
			}
			a.printf("%s: %s\n", path, a.palette.Good.Sprint("ok"))
			return nil
		},
	}
}

func (a *app) checkMazeCommand() *cli.Command {
	return &cli.Command{
		Name:      "check-maze",
		Usage:     "parse a maze file and report problems",
		ArgsUsage: "<maze.txt>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return cli.ShowSubcommandHelp(cmd)
			}
			path := cmd.Args().First()
			def, err := maze.LoadFile(path)
			if err != nil {
				a.printf("%s: %s\n", path, a.palette.Bad.Sprint(err.Error()))
				return ErrCheckFailed
			}
			a.printf("%s: %s\n", path, a.palette.Good.Sprint("ok"))
			a.println(render.Summary(def))
			return nil
		},
	}
}

func (a *app) visualizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "visualize",
		Usage:     "draw a maze file",
		ArgsUsage: "<maze.txt>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return cli.ShowSubcommandHelp(cmd)
			}
			def, err := maze.LoadFile(cmd.Args().First())
			if err != nil {
				return err
			}
			a.println(render.Summary(def))
			a.println(a.palette.Maze(def.Render(nil)))
			return nil
		},
	}
}
