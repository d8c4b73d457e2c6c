package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"labyrinth/internal/cli/command"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.New(os.Stdout).Run(ctx, os.Args); err != nil {
		if !errors.Is(err, command.ErrCheckFailed) {
			fmt.Fprintf(os.Stderr, "labyrinth: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
