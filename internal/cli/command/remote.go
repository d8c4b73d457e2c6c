package command

import (
	"context"
	"fmt"
	"time"

	"labyrinth/internal/cli/repl"
	"labyrinth/internal/cli/state"
	"labyrinth/internal/maze"
	"labyrinth/internal/mazeclient"

	"github.com/urfave/cli/v3"
)

func (a *app) playCommand() *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "play a maze interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "maze", Usage: "maze id to start"},
			&cli.StringFlag{Name: "file", Usage: "play a local maze file without a grader"},
			&cli.BoolFlag{Name: "local", Usage: "play the built-in mazes without a grader"},
			&cli.BoolFlag{Name: "new", Usage: "ignore the saved session and start over"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			session, start, err := a.playSession(ctx, cmd)
			if err != nil {
				return err
			}
			if start != "" {
				if err := session.Start(ctx, start); err != nil {
					return err
				}
			}
			a.println("type 'help' for commands")
			return session.Run(ctx, historyPath(a.cfg.StatePath))
		},
	}
}

// playSession picks the player and the maze to start. An empty start resumes
// the saved remote session.
func (a *app) playSession(ctx context.Context, cmd *cli.Command) (*repl.Session, string, error) {
	mazeID := cmd.String("maze")

	if file := cmd.String("file"); file != "" || cmd.Bool("local") {
		var defs []*maze.Definition
		if file != "" {
			def, err := maze.LoadFile(file)
			if err != nil {
				return nil, "", err
			}
			defs = append(defs, def)
			if mazeID == "" {
				mazeID = def.ID
			}
		}
		if mazeID == "" {
			mazeID = "tutorial"
		}
		return repl.New(repl.NewLocalPlayer(defs...), a.palette, a.out), mazeID, nil
	}

	saved, err := state.Load(a.cfg.StatePath)
	if err != nil {
		return nil, "", err
	}
	if mazeID == "" && !cmd.Bool("new") && saved.Resumable(a.cfg.BaseURL) {
		client := a.client(saved.SessionID)
		if _, err := client.Session(ctx); err == nil {
			a.println(a.palette.Info.Sprintf("resumed session %s on %s", saved.SessionID, saved.MazeID))
			return a.remoteSession(client), "", nil
		}
		// The grader evicted or closed it; start over on the same maze.
		_ = state.Clear(a.cfg.StatePath)
		mazeID = saved.MazeID
	}
	if mazeID == "" {
		mazeID = "tutorial"
	}
	return a.remoteSession(a.client("")), mazeID, nil
}

// remoteSession saves every new session so a later play resumes it.
func (a *app) remoteSession(client *mazeclient.Client) *repl.Session {
	session := repl.New(repl.NewRemotePlayer(client), a.palette, a.out)
	session.OnStart = func(st maze.State) {
		_ = state.Save(a.cfg.StatePath, state.PlayState{
			BaseURL:   a.cfg.BaseURL,
			SessionID: st.SessionID,
			MazeID:    st.MazeID,
			UpdatedAt: time.Now(),
		})
	}
	return session
}

func (a *app) mazesCommand() *cli.Command {
	return &cli.Command{
		Name:  "mazes",
		Usage: "list the grader's mazes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			infos, err := a.client("").ListMazes(ctx)
			if err != nil {
				return err
			}
			for _, info := range infos {
				a.printf("%-24s %-13s %dx%d  %s\n", info.ID, info.Difficulty, info.Width, info.Height, info.Name)
			}
			return nil
		},
	}
}

func (a *app) submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "submit a solver for grading",
		ArgsUsage: "<file.py>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "maze", Value: "tutorial", Usage: "maze id to grade on"},
			&cli.BoolFlag{Name: "wait", Usage: "wait for the final status"},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "status poll interval"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, data, err := readArgFile(cmd, "<file.py>")
			if err != nil {
				return err
			}
			client := a.client("")
			receipt, err := client.Submit(ctx, cmd.String("maze"), string(data))
			if err != nil {
				return err
			}
			a.printf("submission %s %s\n", receipt.SubmissionID, receipt.Status)
			if !cmd.Bool("wait") {
				return nil
			}
			sub, err := client.WaitSubmission(ctx, receipt.SubmissionID, cmd.Duration("interval"))
			if err != nil {
				return err
			}
			return a.printSubmission(sub)
		},
	}
}

func (a *app) statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show a submission's status",
		ArgsUsage: "<submission_id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "wait", Usage: "wait for the final status"},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "status poll interval"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return cli.ShowSubcommandHelp(cmd)
			}
			client := a.client("")
			id := cmd.Args().First()
			var (
				sub mazeclient.Submission
				err error
			)
			if cmd.Bool("wait") {
				sub, err = client.WaitSubmission(ctx, id, cmd.Duration("interval"))
			} else {
				sub, err = client.Submission(ctx, id)
			}
			if err != nil {
				return err
			}
			return a.printSubmission(sub)
		},
	}
}

func (a *app) printSubmission(sub mazeclient.Submission) error {
	status := sub.Status
	switch sub.Status {
	case "completed":
		status = a.palette.Good.Sprint(status)
	case "failed", "timeout":
		status = a.palette.Bad.Sprint(status)
	}
	a.printf("%s  %s  maze=%s\n", sub.ID, status, sub.MazeID)
	if sub.Score != nil {
		a.printf("score: %d turns\n", *sub.Score)
	}
	if sub.ErrorMessage != "" {
		a.printf("error: %s\n", sub.ErrorMessage)
	}
	if sub.Status == "failed" || sub.Status == "timeout" {
		return fmt.Errorf("submission %s %s", sub.ID, sub.Status)
	}
	return nil
}
