package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/weavrhq/weavr/cmd"
)

func main() {
	// Interrupts cancel the command context so engine sessions shut down
	// cleanly before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
