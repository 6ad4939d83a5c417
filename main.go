// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/scroller/cmd"
)

func main() {
	// Interrupts cancel the command context so watch and simulate shut down cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		os.Exit(1)
	}
}
